package complete

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/gateway"
)

// invokerFunc adapts a function to Invoker.
type invokerFunc func(ctx context.Context, req gateway.Request) gateway.Result

func (f invokerFunc) Invoke(ctx context.Context, req gateway.Request) gateway.Result {
	return f(ctx, req)
}

func quietOptions() Options {
	return Options{
		TriggerCharacters: []string{"."},
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDropdownRanksInServerOrder(t *testing.T) {
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		if req.Kind != gateway.DropdownComplete {
			t.Errorf("kind = %v, want dropdown", req.Kind)
		}
		return gateway.SuggestionsResult([]string{"foo", ".bar", "baz"})
	}), quietOptions())
	defer e.Close()

	resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
		Type:             quill.TypeDropdown,
		RequestID:        7,
		SessionID:        "s",
		LinePrefix:       "app.",
		Prefix:           "from pyteal import *\napp.",
		TriggerCharacter: ".",
	})
	if !ok {
		t.Fatal("expected response to be current")
	}
	if resp.RequestID != 7 {
		t.Errorf("RequestID = %d, want 7", resp.RequestID)
	}
	want := []string{"foo", ".bar", "baz"}
	if len(resp.Items) != len(want) {
		t.Fatalf("got %d items, want %d", len(resp.Items), len(want))
	}
	for i, item := range resp.Items {
		if item.Label != want[i] || item.Index != i {
			t.Errorf("item %d = %+v, want label %q index %d", i, item, want[i], i)
		}
		if item.Preselect != (i == 0) {
			t.Errorf("item %d preselect = %v", i, item.Preselect)
		}
	}
	if !(resp.Items[0].SortText < resp.Items[1].SortText && resp.Items[1].SortText < resp.Items[2].SortText) {
		t.Errorf("sort texts not increasing: %+v", resp.Items)
	}
}

func TestInlineReturnsPayload(t *testing.T) {
	var got string
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		got = req.PromptOrCode
		return gateway.OKResult("Approve()")
	}), quietOptions())
	defer e.Close()

	resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
		Type:       quill.TypeInline,
		SessionID:  "s",
		LinePrefix: "return ",
		Prefix:     "def approval():\n    return ",
	})
	if !ok || resp.Inline != "Approve()" {
		t.Fatalf("got (%+v, %v)", resp, ok)
	}
	if got != "def approval():\n    return " {
		t.Errorf("prompt = %q, want whole prefix", got)
	}
}

func TestPolicyRejectionNeverInvokes(t *testing.T) {
	var calls atomic.Int32
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		calls.Add(1)
		return gateway.OKResult("x")
	}), quietOptions())
	defer e.Close()

	reqs := []*quill.CompletionRequest{
		{Type: quill.TypeInline, SessionID: "s", LinePrefix: ""},
		{Type: quill.TypeInline, SessionID: "s", LinePrefix: "   \t"},
		{Type: quill.TypeDropdown, SessionID: "s", LinePrefix: "foo("},
		{Type: quill.TypeDropdown, SessionID: "s", LinePrefix: "x = "},
	}
	for _, req := range reqs {
		resp, ok := e.Complete(context.Background(), req)
		if !ok {
			t.Errorf("%q: rejected trigger reported stale", req.LinePrefix)
		}
		if resp.Inline != "" || len(resp.Items) != 0 {
			t.Errorf("%q: expected empty response, got %+v", req.LinePrefix, resp)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("invoker called %d times, want 0", n)
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("pending sites = %d, want 0", n)
	}
}

func TestFailureDegradesSilently(t *testing.T) {
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		return gateway.FailedResult(gateway.Timeout, "too slow")
	}), quietOptions())
	defer e.Close()

	for _, typ := range []string{quill.TypeInline, quill.TypeDropdown} {
		resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
			Type: typ, SessionID: "s", LinePrefix: "abc",
		})
		if !ok {
			t.Fatalf("%s: unexpected stale", typ)
		}
		if resp.Error != nil || resp.Inline != "" || len(resp.Items) != 0 {
			t.Errorf("%s: expected silent empty response, got %+v", typ, resp)
		}
	}
}

func TestUnknownTypeIsInvalidRequest(t *testing.T) {
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		t.Error("invoker should not be called")
		return gateway.Result{}
	}), quietOptions())
	defer e.Close()

	resp, _ := e.Complete(context.Background(), &quill.CompletionRequest{Type: "hover", LinePrefix: "x"})
	if resp.Error == nil || resp.Error.Code != "invalid_request" {
		t.Errorf("expected invalid_request, got %+v", resp.Error)
	}
}

func TestStaleResultIsDropped(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})

	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		if req.PromptOrCode == "slow" {
			close(firstStarted)
			<-releaseFirst
			return gateway.OKResult("from N")
		}
		return gateway.OKResult("from N+1")
	}), quietOptions())
	defer e.Close()

	type outcome struct {
		resp *quill.CompletionResponse
		ok   bool
	}
	first := make(chan outcome, 1)
	go func() {
		resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
			Type: quill.TypeInline, RequestID: 1, SessionID: "s", LinePrefix: "slow",
		})
		first <- outcome{resp, ok}
	}()
	<-firstStarted

	resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
		Type: quill.TypeInline, RequestID: 2, SessionID: "s", LinePrefix: "fast",
	})
	if !ok || resp.Inline != "from N+1" {
		t.Fatalf("newer trigger: got (%+v, %v)", resp, ok)
	}

	close(releaseFirst)
	got := <-first
	if got.ok {
		t.Fatalf("older trigger was rendered: %+v", got.resp)
	}
}

func TestStaleResultDroppedWhenNewerStillRunning(t *testing.T) {
	var (
		mu      sync.Mutex
		gates   = map[string]chan struct{}{"a": make(chan struct{}), "ab": make(chan struct{})}
		started = make(chan string, 2)
	)
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		mu.Lock()
		gate := gates[req.PromptOrCode]
		mu.Unlock()
		started <- req.PromptOrCode
		<-gate
		return gateway.OKResult(req.PromptOrCode + "!")
	}), quietOptions())
	defer e.Close()

	results := make(chan string, 2)
	run := func(prefix string) {
		resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
			Type: quill.TypeInline, SessionID: "s", LinePrefix: prefix,
		})
		if ok {
			results <- resp.Inline
		} else {
			results <- "stale:" + prefix
		}
	}

	go run("a")
	<-started
	go run("ab")
	<-started

	// N resolves while N+1 is still outstanding.
	close(gates["a"])
	if got := <-results; got != "stale:a" {
		t.Errorf("first resolution = %q, want stale:a", got)
	}
	close(gates["ab"])
	if got := <-results; got != "ab!" {
		t.Errorf("second resolution = %q, want ab!", got)
	}
}

func TestSitesAreIndependent(t *testing.T) {
	inlineStarted := make(chan struct{})
	releaseInline := make(chan struct{})
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		if req.Kind == gateway.InlineComplete {
			close(inlineStarted)
			<-releaseInline
			return gateway.OKResult("ghost")
		}
		return gateway.SuggestionsResult([]string{"x"})
	}), quietOptions())
	defer e.Close()

	done := make(chan bool, 1)
	go func() {
		_, ok := e.Complete(context.Background(), &quill.CompletionRequest{
			Type: quill.TypeInline, SessionID: "s", LinePrefix: "app",
		})
		done <- ok
	}()
	<-inlineStarted

	if _, ok := e.Complete(context.Background(), &quill.CompletionRequest{
		Type: quill.TypeDropdown, SessionID: "s", LinePrefix: "app",
	}); !ok {
		t.Error("dropdown trigger reported stale")
	}
	close(releaseInline)
	if !<-done {
		t.Error("dropdown trigger superseded the inline site")
	}
}

func TestCancelSupersededCancelsInFlight(t *testing.T) {
	firstStarted := make(chan struct{})
	cancelled := make(chan struct{})

	opts := quietOptions()
	opts.CancelSuperseded = true
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		if req.PromptOrCode == "slow" {
			close(firstStarted)
			<-ctx.Done()
			close(cancelled)
			return gateway.FailedResult(gateway.Cancelled, "superseded")
		}
		return gateway.OKResult("fresh")
	}), opts)
	defer e.Close()

	first := make(chan bool, 1)
	go func() {
		_, ok := e.Complete(context.Background(), &quill.CompletionRequest{
			Type: quill.TypeInline, SessionID: "s", LinePrefix: "slow",
		})
		first <- ok
	}()
	<-firstStarted

	resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
		Type: quill.TypeInline, SessionID: "s", LinePrefix: "fast",
	})
	if !ok || resp.Inline != "fresh" {
		t.Fatalf("got (%+v, %v)", resp, ok)
	}

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("superseded request was not cancelled")
	}
	if <-first {
		t.Error("superseded request was rendered")
	}
}

func TestDropdownDedupesAndCaps(t *testing.T) {
	opts := quietOptions()
	opts.MaxSuggestions = 3
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		return gateway.SuggestionsResult([]string{"a", "b", "a", "", "c", "d"})
	}), opts)
	defer e.Close()

	resp, _ := e.Complete(context.Background(), &quill.CompletionRequest{
		Type: quill.TypeDropdown, SessionID: "s", LinePrefix: "x",
	})
	var labels []string
	for _, item := range resp.Items {
		labels = append(labels, item.Label)
	}
	if strings.Join(labels, ",") != "a,b,c" {
		t.Errorf("labels = %v, want [a b c]", labels)
	}
}

func TestDropdownAcceptsPlainResponseLines(t *testing.T) {
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		return gateway.OKResult("first\nsecond\n")
	}), quietOptions())
	defer e.Close()

	resp, _ := e.Complete(context.Background(), &quill.CompletionRequest{
		Type: quill.TypeDropdown, SessionID: "s", LinePrefix: "x",
	})
	if len(resp.Items) != 2 || resp.Items[1].Label != "second" {
		t.Errorf("items = %+v", resp.Items)
	}
}

func TestPrefixIsBounded(t *testing.T) {
	var got string
	opts := quietOptions()
	opts.MaxPrefixBytes = 8
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		got = req.PromptOrCode
		return gateway.OKResult("x")
	}), opts)
	defer e.Close()

	e.Complete(context.Background(), &quill.CompletionRequest{
		Type: quill.TypeInline, SessionID: "s", LinePrefix: "tail", Prefix: "0123456789abcdef",
	})
	if got != "89abcdef" {
		t.Errorf("prompt = %q, want last 8 bytes", got)
	}
}

func TestCacheReusesSuccessfulResults(t *testing.T) {
	var calls atomic.Int32
	opts := quietOptions()
	opts.CacheTTL = time.Minute
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		if calls.Add(1) == 1 {
			return gateway.FailedResult(gateway.Timeout, "slow")
		}
		return gateway.OKResult("cached")
	}), opts)
	defer e.Close()

	req := &quill.CompletionRequest{Type: quill.TypeInline, SessionID: "s", LinePrefix: "abc"}
	for i := 0; i < 3; i++ {
		e.Complete(context.Background(), req)
	}
	// The failure is not cached; the first success is.
	if n := calls.Load(); n != 2 {
		t.Errorf("invoker called %d times, want 2", n)
	}
}

func TestSitePrunedAfterResolve(t *testing.T) {
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		return gateway.OKResult("x")
	}), quietOptions())
	defer e.Close()

	for _, sid := range []string{"a", "b", "c"} {
		e.Complete(context.Background(), &quill.CompletionRequest{
			Type: quill.TypeInline, SessionID: sid, LinePrefix: "x",
		})
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("pending sites = %d, want 0", n)
	}
}

func TestBoundPrefixKeepsRunes(t *testing.T) {
	// The last 5 bytes start inside 日.
	if got := boundPrefix("aé日本", 5); got != "本" {
		t.Errorf("boundPrefix = %q, want %q", got, "本")
	}
	if boundPrefix("short", 10) != "short" {
		t.Error("short input changed")
	}
}

func TestDropdownWithoutLinePrefixUsesDocument(t *testing.T) {
	var calls atomic.Int32
	e := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		calls.Add(1)
		return gateway.SuggestionsResult([]string{"approve"})
	}), quietOptions())
	defer e.Close()

	resp, ok := e.Complete(context.Background(), &quill.CompletionRequest{
		Type:      quill.TypeDropdown,
		SessionID: "s",
		Prefix:    "from pyteal import *\nApp.",
	})
	if !ok {
		t.Fatal("expected response to be current")
	}
	if calls.Load() != 1 || len(resp.Items) != 1 || resp.Items[0].Label != "approve" {
		t.Errorf("calls = %d, items = %+v", calls.Load(), resp.Items)
	}
}

func TestSharedCorrelatorSpansEngines(t *testing.T) {
	c := NewCorrelator(false)
	entered := make(chan struct{})
	release := make(chan struct{})

	oldOpts := quietOptions()
	oldOpts.Correlator = c
	old := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		close(entered)
		<-release
		return gateway.OKResult("old")
	}), oldOpts)
	defer old.Close()

	newOpts := quietOptions()
	newOpts.Correlator = c
	next := NewEngine(invokerFunc(func(ctx context.Context, req gateway.Request) gateway.Result {
		return gateway.OKResult("new")
	}), newOpts)
	defer next.Close()

	req := &quill.CompletionRequest{Type: quill.TypeInline, SessionID: "s", LinePrefix: "x"}

	type outcome struct {
		resp *quill.CompletionResponse
		ok   bool
	}
	done := make(chan outcome, 1)
	go func() {
		resp, ok := old.Complete(context.Background(), req)
		done <- outcome{resp, ok}
	}()
	<-entered

	resp, ok := next.Complete(context.Background(), req)
	if !ok || resp.Inline != "new" {
		t.Fatalf("newer trigger got (%+v, %v)", resp, ok)
	}

	close(release)
	if got := <-done; got.ok {
		t.Errorf("result from the replaced engine was delivered: %+v", got.resp)
	}
	if n := c.Pending(); n != 0 {
		t.Errorf("pending sites = %d, want 0", n)
	}
}
