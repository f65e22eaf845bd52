// Package complete serves inline and dropdown completions. Each trigger
// passes its site's policy, is correlated against newer triggers from the
// same site, and is answered from the inference gateway.
package complete

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/gateway"
)

const (
	// DefaultMaxSuggestions matches what the dropdown script returns at most.
	DefaultMaxSuggestions = 8
	defaultMaxPrefixBytes = 2000
)

// Invoker runs one inference request.
type Invoker interface {
	Invoke(ctx context.Context, req gateway.Request) gateway.Result
}

// Options configures an Engine.
type Options struct {
	TriggerCharacters []string
	MaxSuggestions    int
	// MaxPrefixBytes keeps only the tail of long documents.
	MaxPrefixBytes int
	// CacheTTL is how long successful results are reused. Zero disables caching.
	CacheTTL time.Duration
	// CancelSuperseded kills a site's in-flight process when a newer trigger
	// arrives. Otherwise it runs to completion and its result is dropped.
	CancelSuperseded bool
	// Correlator, if set, is shared with other engines: a trigger issued by
	// any of them supersedes results still running on the others.
	Correlator *Correlator
	Logger     *slog.Logger
}

// Engine answers completion requests.
type Engine struct {
	invoker    Invoker
	opts       Options
	correlator *Correlator
	inline     InlinePolicy
	dropdown   DropdownPolicy
	cache      *resultCache
	logger     *slog.Logger
}

// NewEngine creates a completion engine backed by invoker.
func NewEngine(invoker Invoker, opts Options) *Engine {
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = DefaultMaxSuggestions
	}
	if opts.MaxPrefixBytes <= 0 {
		opts.MaxPrefixBytes = defaultMaxPrefixBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	correlator := opts.Correlator
	if correlator == nil {
		correlator = NewCorrelator(opts.CancelSuperseded)
	} else {
		correlator.SetCancelSuperseded(opts.CancelSuperseded)
	}
	e := &Engine{
		invoker:    invoker,
		opts:       opts,
		correlator: correlator,
		dropdown:   DropdownPolicy{TriggerCharacters: opts.TriggerCharacters},
		logger:     opts.Logger,
	}
	if opts.CacheTTL > 0 {
		e.cache = newResultCache(opts.CacheTTL)
	}
	return e
}

// NewEngineFromConfig creates a completion engine with settings from cfg.
// correlator may be nil.
func NewEngineFromConfig(invoker Invoker, cfg *quill.Config, correlator *Correlator) *Engine {
	return NewEngine(invoker, Options{
		Correlator:        correlator,
		TriggerCharacters: cfg.Completion.TriggerCharacters,
		MaxSuggestions:    cfg.Completion.MaxSuggestions,
		MaxPrefixBytes:    cfg.Completion.MaxPrefixBytes,
		CacheTTL:          quill.CacheTTL(cfg),
		CancelSuperseded:  quill.CancelSuperseded(cfg),
	})
}

// Close stops the result cache.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.close()
	}
}

// Pending returns the number of sites with a completion in flight.
func (e *Engine) Pending() int {
	return e.correlator.Pending()
}

// Complete answers one trigger. It returns false when a newer trigger from
// the same site was issued while this one was running; the caller must then
// render nothing. Inference failures degrade to an empty response.
func (e *Engine) Complete(ctx context.Context, req *quill.CompletionRequest) (*quill.CompletionResponse, bool) {
	resp := &quill.CompletionResponse{RequestID: req.RequestID, Items: []quill.Item{}}

	var (
		kind   gateway.Kind
		policy Policy
	)
	switch req.Type {
	case quill.TypeInline:
		kind, policy = gateway.InlineComplete, e.inline
	case quill.TypeDropdown:
		kind, policy = gateway.DropdownComplete, e.dropdown
	default:
		resp.Error = &quill.Error{
			Code:    "invalid_request",
			Message: fmt.Sprintf("unknown completion type %q", req.Type),
		}
		return resp, true
	}

	site := req.Type + ":" + req.SessionID
	tc := TriggerContext{
		LinePrefix:       strings.TrimRight(req.LinePrefix, "\r\n"),
		Prefix:           req.Prefix,
		TriggerCharacter: req.TriggerCharacter,
	}

	// A rejected trigger still supersedes whatever the site had in flight:
	// the cursor has moved past it.
	tok, ictx, release := e.correlator.Issue(ctx, site)
	defer release()

	if !policy.Accept(tc) {
		e.correlator.Resolve(site, tok)
		return resp, true
	}

	prompt := tc.Prefix
	if prompt == "" {
		prompt = tc.Line()
	}
	prompt = boundPrefix(prompt, e.opts.MaxPrefixBytes)

	res := e.invoke(ictx, kind, prompt)

	if !e.correlator.Resolve(site, tok) {
		e.logger.Debug("dropping stale completion", "site", site, "token", tok)
		return nil, false
	}

	if k, failed := res.Failed(); failed {
		e.logger.Debug("completion unavailable", "site", site, "error", k.String(), "message", res.Err.Message)
		return resp, true
	}

	if kind == gateway.InlineComplete {
		resp.Inline = inlineText(res)
	} else {
		resp.Items = Rank(suggestionsOf(res), e.opts.MaxSuggestions)
	}
	return resp, true
}

func (e *Engine) invoke(ctx context.Context, kind gateway.Kind, prompt string) gateway.Result {
	if e.cache != nil {
		if res, ok := e.cache.get(kind, prompt); ok {
			e.logger.Debug("completion cache hit", "kind", kind.String())
			return res
		}
	}
	res := e.invoker.Invoke(ctx, gateway.Request{Kind: kind, PromptOrCode: prompt})
	if e.cache != nil {
		e.cache.put(kind, prompt, res)
	}
	return res
}

// Rank de-duplicates suggestions (first occurrence wins), drops blank
// ones, keeps at most limit and numbers them in server order. The first item
// is preselected.
func Rank(suggestions []string, limit int) []quill.Item {
	items := make([]quill.Item, 0, min(len(suggestions), limit))
	seen := make(map[string]bool, len(suggestions))
	for _, s := range suggestions {
		if len(items) == limit {
			break
		}
		if strings.TrimSpace(s) == "" || seen[s] {
			continue
		}
		seen[s] = true
		i := len(items)
		items = append(items, quill.Item{
			Label:     s,
			Index:     i,
			SortText:  fmt.Sprintf("%04d", i),
			Preselect: i == 0,
		})
	}
	return items
}

func inlineText(res gateway.Result) string {
	if res.Kind == gateway.OK {
		return res.Payload
	}
	for _, s := range res.Items {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// suggestionsOf accepts a plain response as one suggestion per line.
func suggestionsOf(res gateway.Result) []string {
	if res.Kind == gateway.Suggestions {
		return res.Items
	}
	return strings.Split(res.Payload, "\n")
}

// boundPrefix keeps the last max bytes of s without splitting a rune.
func boundPrefix(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	s = s[len(s)-max:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
