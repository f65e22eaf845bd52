package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/command"
	"github.com/Paranoid-AF/quill/complete"
	"github.com/Paranoid-AF/quill/gateway"
)

type invokerFunc func(ctx context.Context, req gateway.Request) gateway.Result

func (f invokerFunc) Invoke(ctx context.Context, req gateway.Request) gateway.Result {
	return f(ctx, req)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		in, name, arg string
	}{
		{"x = foo.", "", "x = foo."},
		{":generate  a voting dao ", "generate", "a voting dao"},
		{":retry", "retry", ""},
		{":", "", ""},
	}
	for _, tt := range tests {
		name, arg := parseLine(tt.in)
		if name != tt.name || arg != tt.arg {
			t.Errorf("parseLine(%q) = %q, %q; want %q, %q", tt.in, name, arg, tt.name, tt.arg)
		}
	}
}

func TestLineBufferEditsRunes(t *testing.T) {
	var l lineBuffer
	l.reset("aé")
	l.insert([]byte("日"))
	if l.String() != "aé日" || l.pos != len("aé日") {
		t.Fatalf("after insert: %q pos %d", l.String(), l.pos)
	}

	l.left()
	l.left()
	if l.pos != 1 {
		t.Fatalf("pos after two lefts = %d, want 1", l.pos)
	}
	l.insert([]byte("b"))
	if l.String() != "abé日" {
		t.Errorf("mid insert = %q", l.String())
	}

	l.del()
	if l.String() != "ab日" {
		t.Errorf("delete = %q", l.String())
	}
	l.right()
	l.backspace()
	if l.String() != "ab" || l.pos != 2 {
		t.Errorf("backspace = %q pos %d", l.String(), l.pos)
	}
}

func TestEditorHistory(t *testing.T) {
	e := &Editor{}
	e.remember("one")
	e.remember("two")
	e.remember("two")
	if len(e.history) != 2 {
		t.Fatalf("history = %v", e.history)
	}

	e.recall = len(e.history)
	e.line.reset("draft")
	e.step(-1)
	if e.line.String() != "two" {
		t.Errorf("up = %q", e.line.String())
	}
	e.step(-1)
	e.step(-1)
	if e.line.String() != "one" {
		t.Errorf("up past oldest = %q", e.line.String())
	}
	e.step(1)
	e.step(1)
	if e.line.String() != "draft" {
		t.Errorf("back to live line = %q", e.line.String())
	}
}

func newTestSession(fn invokerFunc) *session {
	engine := complete.NewEngine(fn, complete.Options{TriggerCharacters: []string{"."}})
	return &session{
		engine: engine,
		panel:  command.New(fn, command.DefaultPrompts(), nil),
		meta:   command.PromptData{Type: "stateful", Lang: "pyteal"},
	}
}

func TestSessionCompleteUsesTextLeftOfCursor(t *testing.T) {
	var prompts []string
	s := newTestSession(func(_ context.Context, req gateway.Request) gateway.Result {
		prompts = append(prompts, req.PromptOrCode)
		if req.Kind == gateway.DropdownComplete {
			return gateway.SuggestionsResult([]string{"foo", "bar"})
		}
		return gateway.OKResult("ghost")
	})
	defer s.engine.Close()

	s.complete("import os", 9)
	e := s.complete("x = os.pa", 7)

	if e.Inline != "ghost" {
		t.Errorf("inline = %q", e.Inline)
	}
	if len(e.Items) != 2 || e.Items[0].Label != "foo" {
		t.Errorf("items = %+v", e.Items)
	}
	if e.Request.LinePrefix != "x = os." || e.Request.Prefix != "import os\nx = os." {
		t.Errorf("request = %+v", e.Request)
	}
	if last := prompts[len(prompts)-1]; last != "import os\nx = os." {
		t.Errorf("prompt = %q", last)
	}
}

func TestSessionCommandsDriveOrchestrator(t *testing.T) {
	var got []gateway.Request
	s := newTestSession(func(_ context.Context, req gateway.Request) gateway.Result {
		got = append(got, req)
		if req.Kind == gateway.Deploy {
			return gateway.OKResult("app id 7")
		}
		return gateway.OKResult("contract")
	})
	defer s.engine.Close()

	if e, err := s.command("purpose", "escrow"); e != nil || err != nil {
		t.Fatalf("purpose: %v %v", e, err)
	}
	e, err := s.command(quill.CommandGenerate, "hold funds")
	if err != nil {
		t.Fatal(err)
	}
	if e.Command.Output != "contract" || e.Command.State != "success" {
		t.Fatalf("generate = %+v", e.Command)
	}
	if got[0].Meta.Purpose != "escrow" || got[0].Meta.Lang != "pyteal" {
		t.Errorf("metadata = %+v", got[0].Meta)
	}

	e, _ = s.command(quill.CommandDeploy, "")
	if e.Command.Output != "app id 7" || e.Command.State != "idle" {
		t.Errorf("deploy = %+v", e.Command)
	}
	if got[1].PromptOrCode != "contract" {
		t.Errorf("deployed %q, want the artifact", got[1].PromptOrCode)
	}

	if _, err := s.command("bogus", ""); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestWriteEntryIsTOML(t *testing.T) {
	var buf bytes.Buffer
	err := writeEntry(&buf, &entry{
		Request: entryRequest{LinePrefix: "say \"hi\"\t"},
		Items:   complete.Rank([]string{"a", "b"}, 8),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "# ═") {
		t.Errorf("missing separator: %q", buf.String())
	}

	var back entry
	if _, err := toml.Decode(buf.String(), &back); err != nil {
		t.Fatalf("transcript is not valid TOML: %v\n%s", err, buf.String())
	}
	if back.Request.LinePrefix != "say \"hi\"\t" || len(back.Items) != 2 {
		t.Errorf("decoded = %+v", back)
	}
}
