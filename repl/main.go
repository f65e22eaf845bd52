// Command quill-repl drives the completion engine and the command
// orchestrator from a terminal, without an editor or a panel. Plain lines
// are completed as if typed into a document; lines starting with ':' are
// panel commands. Every exchange is appended to stdout as a TOML entry.
//
// Usage:
//
//	./quill-repl             # interactive, TOML on screen
//	./quill-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/command"
	"github.com/Paranoid-AF/quill/complete"
	"github.com/Paranoid-AF/quill/gateway"
)

const prompt = "> "

const help = `commands:
  :purpose <text>   set the contract purpose
  :type <text>      set the contract type
  :lang <text>      set the contract language
  :generate <chat>  generate a contract
  :retry            regenerate from the last output
  :deploy           deploy the current artifact
  :state            show the panel state
  :clear            forget the document typed so far
  :quit             exit
`

func main() {
	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	tty := editor.Tty()

	cfg, err := quill.LoadConfig()
	if err != nil {
		fmt.Fprintf(tty, "config: %v (using defaults)\r\n", err)
		cfg = quill.DefaultConfig()
	}
	for _, w := range quill.ValidateConfig(cfg) {
		fmt.Fprintf(tty, "warning: %s\r\n", w)
	}

	gw := gateway.NewFromConfig(cfg)
	defer gw.Wait()
	engine := complete.NewEngineFromConfig(gw, cfg, nil)
	defer engine.Close()
	panel := command.New(gw, command.LoadPrompts(), slog.Default())

	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "quill repl\r\n")
	fmt.Fprintf(tty, "project: %s\r\n\r\n", quill.ResolveProjectRoot(cfg))
	fmt.Fprint(tty, strings.ReplaceAll(help, "\n", "\r\n"))
	fmt.Fprintf(tty, "\r\n")

	// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
	// passes \n through unchanged when redirected to a file.
	out := termWriter(os.Stdout)

	s := &session{engine: engine, panel: panel, meta: command.PromptData{Type: "stateful", Lang: "pyteal"}}

	for {
		text, cursorPos, err := editor.ReadLine(prompt)
		if err == io.EOF || err == ErrInterrupt {
			break
		}
		if err != nil {
			fmt.Fprintf(tty, "read error: %v\r\n", err)
			break
		}
		if text == "" {
			continue
		}

		cmd, arg := parseLine(text)
		if cmd == "quit" || cmd == "q" {
			break
		}
		if cmd == "help" {
			fmt.Fprint(tty, strings.ReplaceAll(help, "\n", "\r\n"))
			continue
		}

		var e *entry
		if cmd == "" {
			e = s.complete(text, cursorPos)
		} else {
			e, err = s.command(cmd, arg)
			if err != nil {
				fmt.Fprintf(tty, "%v\r\n\r\n", err)
				continue
			}
		}
		if e == nil {
			continue
		}
		showEntry(tty, e)
		fmt.Fprintf(tty, "\r\n")
		if err := writeEntry(out, e); err != nil {
			fmt.Fprintf(tty, "transcript: %v\r\n", err)
		}
	}
}

// session is the state one repl run carries between lines.
type session struct {
	engine *complete.Engine
	panel  *command.Orchestrator
	meta   command.PromptData
	doc    strings.Builder
	reqID  int
}

// parseLine splits ":name argument" into its parts. Plain text yields an
// empty name.
func parseLine(text string) (name, arg string) {
	if !strings.HasPrefix(text, ":") {
		return "", text
	}
	name, arg, _ = strings.Cut(text[1:], " ")
	return name, strings.TrimSpace(arg)
}

// complete fires an inline and a dropdown trigger for the text left of the
// cursor, then appends the line to the document.
func (s *session) complete(text string, cursor int) *entry {
	linePrefix := text[:cursor]
	prefix := s.doc.String() + linePrefix
	defer func() {
		s.doc.WriteString(text)
		s.doc.WriteString("\n")
	}()

	e := &entry{Request: entryRequest{
		Timestamp:  time.Now(),
		LinePrefix: linePrefix,
		Prefix:     prefix,
	}}

	ctx := context.Background()
	for _, typ := range []string{quill.TypeInline, quill.TypeDropdown} {
		s.reqID++
		resp, ok := s.engine.Complete(ctx, &quill.CompletionRequest{
			Type:       typ,
			RequestID:  s.reqID,
			SessionID:  "repl",
			LinePrefix: linePrefix,
			Prefix:     prefix,
		})
		if !ok {
			continue
		}
		if resp.Error != nil {
			e.Error = &entryError{Code: resp.Error.Code, Message: resp.Error.Message}
			continue
		}
		if typ == quill.TypeInline {
			e.Inline = resp.Inline
		} else {
			e.Items = resp.Items
		}
	}
	return e
}

// command applies a ':' line. Metadata setters and :clear produce no entry.
func (s *session) command(name, arg string) (*entry, error) {
	switch name {
	case "purpose":
		s.meta.Purpose = arg
		return nil, nil
	case "type":
		s.meta.Type = arg
		return nil, nil
	case "lang":
		s.meta.Lang = arg
		return nil, nil
	case "clear":
		s.doc.Reset()
		return nil, nil
	}

	req := &quill.CommandRequest{Command: name}
	switch name {
	case quill.CommandGenerate:
		req.Purpose = s.meta.Purpose
		req.Type = s.meta.Type
		req.Lang = s.meta.Lang
		req.Chat = arg
	case quill.CommandRetry:
		req.Chat = arg
	case quill.CommandDeploy:
		req.ContractType = s.meta.Type
		req.Lang = s.meta.Lang
	case quill.CommandState:
	default:
		return nil, fmt.Errorf("unknown command :%s (try :help)", name)
	}

	resp := s.panel.Handle(context.Background(), req)
	return &entry{
		Request: entryRequest{
			Timestamp: time.Now(),
			Command:   name,
			Purpose:   req.Purpose,
			Chat:      req.Chat,
		},
		Command: &entryCommand{
			Reply:  resp.Command,
			Output: resp.Output,
			Error:  resp.Error,
			State:  resp.State,
		},
	}, nil
}
