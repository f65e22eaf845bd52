// Package gateway runs the external inference process. Every Invoke spawns
// one process, writes one JSON document to its stdin, reads one JSON
// document from its stdout and returns a normalized Result. Processes are
// never pooled or reused.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/locate"
)

const (
	defaultCompletionTimeout = 10 * time.Second
	defaultReapGrace         = 2 * time.Second
	defaultMaxReplyBytes     = 1 << 20
	defaultStderrTailBytes   = 8 << 10
)

// Locator resolves a script name to something that can be launched.
type Locator interface {
	Locate(script string) (*locate.Target, error)
}

// Options configures a Gateway. Zero values select defaults, except
// CommandTimeout where zero means unbounded.
type Options struct {
	// Scripts maps each kind to the script serving it. Retry falls back to
	// the Generate script.
	Scripts map[Kind]string
	// CommandTimeout bounds Generate, Retry and Deploy. Zero is unbounded.
	CommandTimeout time.Duration
	// CompletionTimeout bounds InlineComplete and DropdownComplete.
	CompletionTimeout time.Duration
	// ReapGrace is how long a process that already replied may keep
	// running before it is killed.
	ReapGrace       time.Duration
	MaxReplyBytes   int
	StderrTailBytes int
	// Env is the full process environment. Nil means BuildEnv(os.Environ(), "").
	Env []string
	// Dir is the working directory of spawned processes.
	Dir    string
	Logger *slog.Logger
}

// Gateway invokes the inference process.
type Gateway struct {
	locator Locator
	opts    Options
	mask    *redactor
	reaping sync.WaitGroup
}

// New creates a gateway that launches scripts resolved by locator.
func New(locator Locator, opts Options) *Gateway {
	if opts.CompletionTimeout == 0 {
		opts.CompletionTimeout = defaultCompletionTimeout
	}
	if opts.ReapGrace <= 0 {
		opts.ReapGrace = defaultReapGrace
	}
	if opts.MaxReplyBytes <= 0 {
		opts.MaxReplyBytes = defaultMaxReplyBytes
	}
	if opts.StderrTailBytes <= 0 {
		opts.StderrTailBytes = defaultStderrTailBytes
	}
	if opts.Env == nil {
		opts.Env = BuildEnv(os.Environ(), "")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{locator: locator, opts: opts, mask: newRedactor(opts.Env)}
}

// NewFromConfig builds the locator and gateway described by cfg.
func NewFromConfig(cfg *quill.Config) *Gateway {
	root := quill.ResolveProjectRoot(cfg)
	loc := locate.New(root)
	loc.PackageDir = cfg.Inference.PackageDir
	loc.VenvDirs = cfg.Inference.VenvDirs
	if cfg.Inference.SystemInterpreter != "" {
		loc.SystemInterpreter = cfg.Inference.SystemInterpreter
	}
	loc.Interpreter = quill.ResolveInterpreter(cfg)

	completionTimeout := quill.CompletionTimeout(cfg)
	if completionTimeout == 0 {
		// Negative means unbounded; New treats zero as "use default".
		completionTimeout = -1
	}

	return New(loc, Options{
		Scripts: map[Kind]string{
			Generate:         cfg.Inference.Scripts.Generate,
			Deploy:           cfg.Inference.Scripts.Deploy,
			InlineComplete:   cfg.Inference.Scripts.Inline,
			DropdownComplete: cfg.Inference.Scripts.Dropdown,
		},
		CommandTimeout:    quill.CommandTimeout(cfg),
		CompletionTimeout: completionTimeout,
		ReapGrace:         time.Duration(cfg.Inference.ReapGraceMs) * time.Millisecond,
		MaxReplyBytes:     cfg.Inference.MaxReplyBytes,
		StderrTailBytes:   cfg.Inference.StderrTailBytes,
		Env:               BuildEnv(os.Environ(), root),
		Dir:               root,
	})
}

// Locate resolves the script serving kind, for diagnostics.
func (g *Gateway) Locate(kind Kind) (*locate.Target, error) {
	return g.locator.Locate(g.script(kind))
}

// Invoke runs one request to completion. It blocks until the process
// replies, the timeout for req.Kind expires, or ctx is done, and always
// returns exactly one Result. A process that replied successfully may still
// be exiting when Invoke returns; it is reaped in the background (see Wait).
// Any other process is gone by then.
func (g *Gateway) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()
	logger := g.opts.Logger.With("kind", req.Kind.String())

	target, err := g.locator.Locate(g.script(req.Kind))
	if err != nil {
		res := locatorFailure(err)
		logger.Error("cannot launch inference process", "error", res.Err.Detail())
		return res
	}

	payload, err := json.Marshal(req.message())
	if err != nil {
		return FailedResult(ProtocolError, "failed to encode request: %v", err)
	}

	h := &handle{
		target:    target,
		payload:   append(payload, '\n'),
		timeout:   g.timeout(req.Kind),
		reapGrace: g.opts.ReapGrace,
		maxReply:  int64(g.opts.MaxReplyBytes),
		stderrMax: g.opts.StderrTailBytes,
		env:       g.opts.Env,
		mask:      g.mask,
		dir:       g.opts.Dir,
		logger:    logger,
		reaping:   &g.reaping,
	}
	res := h.run(ctx)

	if res.Kind == Failed {
		logger.Debug("inference failed", "error", res.Err.Kind.String(), "message", res.Err.Message, "elapsed", time.Since(start))
	} else {
		logger.Debug("inference resolved", "result", res.Kind.String(), "elapsed", time.Since(start))
	}
	return res
}

// Wait blocks until every process whose reply was already returned has
// exited or been killed after the reap grace.
func (g *Gateway) Wait() {
	g.reaping.Wait()
}

func (g *Gateway) script(kind Kind) string {
	if s := g.opts.Scripts[kind]; s != "" {
		return s
	}
	if kind == Retry {
		return g.opts.Scripts[Generate]
	}
	return ""
}

func (g *Gateway) timeout(kind Kind) time.Duration {
	d := g.opts.CommandTimeout
	if kind.Completion() {
		d = g.opts.CompletionTimeout
	}
	if d < 0 {
		return 0
	}
	return d
}

func locatorFailure(err error) Result {
	kind := SpawnFailure
	switch {
	case errors.Is(err, locate.ErrScriptNotFound):
		kind = ScriptNotFound
	case errors.Is(err, locate.ErrInterpreterNotFound):
		kind = InterpreterNotFound
	}
	e := &Error{Kind: kind, Message: err.Error()}
	var lerr *locate.Error
	if errors.As(err, &lerr) {
		e.Tried = lerr.Tried
	}
	return Result{Kind: Failed, Err: e}
}
