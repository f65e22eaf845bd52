// Package command drives the panel's generate, retry and deploy commands.
// One Orchestrator serves one panel and allows a single command in flight.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/gateway"
)

// State is the panel's command state.
type State int

const (
	Idle State = iota
	Loading
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Controls returns the panel buttons enabled in s.
func (s State) Controls() quill.Controls {
	switch s {
	case Loading:
		return quill.Controls{}
	case Success:
		return quill.Controls{Generate: true, Retry: true, Deploy: true}
	}
	return quill.Controls{Generate: true}
}

var errBusy = errors.New("a command is already running")

// Invoker runs one inference request.
type Invoker interface {
	Invoke(ctx context.Context, req gateway.Request) gateway.Result
}

// Orchestrator is the command state machine for one panel.
type Orchestrator struct {
	invoker Invoker
	prompts *Prompts
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	// artifact is the output currently displayed; last is the request
	// that produced it.
	artifact string
	last     PromptData
}

// New creates an orchestrator in the Idle state. A nil prompts uses the
// built-in templates.
func New(invoker Invoker, prompts *Prompts, logger *slog.Logger) *Orchestrator {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{invoker: invoker, prompts: prompts, logger: logger}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Artifact returns the output currently displayed, if any.
func (o *Orchestrator) Artifact() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.artifact
}

// Handle runs one panel command and returns its single reply. Commands that
// are not allowed in the current state are answered with an error and
// leave the state unchanged.
func (o *Orchestrator) Handle(ctx context.Context, req *quill.CommandRequest) *quill.CommandResponse {
	switch req.Command {
	case quill.CommandGenerate:
		return o.Generate(ctx, req)
	case quill.CommandRetry:
		return o.Retry(ctx, req)
	case quill.CommandDeploy:
		return o.Deploy(ctx, req)
	case quill.CommandState:
		return o.reply(quill.CommandState, "", "")
	}
	return o.reply(quill.CommandError, "", fmt.Sprintf("unknown command %q", req.Command))
}

// Generate asks for a new artifact. Purpose and chat must be non-empty.
func (o *Orchestrator) Generate(ctx context.Context, req *quill.CommandRequest) *quill.CommandResponse {
	d := PromptData{Chat: req.Chat, Purpose: req.Purpose, Type: req.Type, Lang: req.Lang}
	if strings.TrimSpace(d.Purpose) == "" || strings.TrimSpace(d.Chat) == "" {
		return o.reply(quill.CommandError, "", "select a purpose and describe the contract first")
	}
	if err := o.begin(quill.CommandGenerate); err != nil {
		return o.reply(quill.CommandError, "", err.Error())
	}
	return o.produce(ctx, quill.CommandGenerate, d, o.prompts.Generate(d))
}

// Retry asks for a revision of the current artifact. It is only available
// after a successful generate or retry. Fields missing from req are taken
// from the request that produced the artifact.
func (o *Orchestrator) Retry(ctx context.Context, req *quill.CommandRequest) *quill.CommandResponse {
	o.mu.Lock()
	if err := o.beginLocked(quill.CommandRetry, Success); err != nil {
		defer o.mu.Unlock()
		return o.replyLocked(quill.CommandError, "", err.Error())
	}
	d := PromptData{
		Chat:    firstNonEmpty(req.Chat, o.last.Chat),
		Purpose: firstNonEmpty(req.Purpose, o.last.Purpose),
		Type:    firstNonEmpty(req.Type, o.last.Type),
		Lang:    firstNonEmpty(req.Lang, o.last.Lang),
		Output:  firstNonEmpty(req.Output, o.artifact),
	}
	o.mu.Unlock()

	return o.produce(ctx, quill.CommandRetry, d, o.prompts.Retry(d))
}

// Deploy sends the displayed artifact, verbatim, to the deploy script. It
// is only available after a successful generate or retry. On success the
// panel returns to Idle; on failure the artifact stays displayed.
func (o *Orchestrator) Deploy(ctx context.Context, req *quill.CommandRequest) *quill.CommandResponse {
	o.mu.Lock()
	code := firstNonEmpty(req.Code, o.artifact)
	meta := gateway.Metadata{
		Purpose:      o.last.Purpose,
		ContractType: firstNonEmpty(req.ContractType, req.Type, o.last.Type),
		Lang:         firstNonEmpty(req.Lang, o.last.Lang),
	}
	if strings.TrimSpace(code) == "" {
		defer o.mu.Unlock()
		return o.replyLocked(quill.CommandError, "", "nothing to deploy")
	}
	if err := o.beginLocked(quill.CommandDeploy, Success); err != nil {
		defer o.mu.Unlock()
		return o.replyLocked(quill.CommandError, "", err.Error())
	}
	o.mu.Unlock()

	res := o.run(ctx, quill.CommandDeploy, gateway.Request{Kind: gateway.Deploy, PromptOrCode: code, Meta: meta})

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, failed := res.Failed(); failed {
		o.state = Success
		return o.replyLocked(quill.CommandError, "", res.Err.Message)
	}
	o.state = Idle
	return o.replyLocked(quill.CommandDisplayOutput, res.Payload, "")
}

// produce runs a generate or retry and records its outcome.
func (o *Orchestrator) produce(ctx context.Context, op string, d PromptData, prompt string) *quill.CommandResponse {
	kind := gateway.Generate
	if op == quill.CommandRetry {
		kind = gateway.Retry
	}
	res := o.run(ctx, op, gateway.Request{
		Kind:         kind,
		PromptOrCode: prompt,
		Meta:         gateway.Metadata{Purpose: d.Purpose, ContractType: d.Type, Lang: d.Lang},
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, failed := res.Failed(); failed {
		o.state = Failed
		o.artifact = ""
		return o.replyLocked(quill.CommandError, "", res.Err.Message)
	}
	o.state = Success
	o.artifact = res.Payload
	d.Output = ""
	o.last = d
	return o.replyLocked(quill.CommandDisplayOutput, res.Payload, "")
}

// begin moves to Loading if no command is running and the current state is
// one of from (any state when from is empty).
func (o *Orchestrator) begin(op string, from ...State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.beginLocked(op, from...)
}

// beginLocked is begin for callers that hold o.mu, so the fields a command
// reads are the ones it was admitted with.
func (o *Orchestrator) beginLocked(op string, from ...State) error {
	if o.state == Loading {
		return errBusy
	}
	if len(from) > 0 && !slices.Contains(from, o.state) {
		return fmt.Errorf("%s is only available after a successful generate", op)
	}
	o.state = Loading
	return nil
}

func (o *Orchestrator) run(ctx context.Context, op string, req gateway.Request) gateway.Result {
	logger := o.logger.With("command", op, "invocation", uuid.NewString())
	logger.Info("command started")
	start := time.Now()

	res := o.invoker.Invoke(ctx, req)
	if res.Kind == gateway.Suggestions {
		res = gateway.FailedResult(gateway.ProtocolError, "unexpected suggestions reply to %s", op)
	}

	if k, failed := res.Failed(); failed {
		logger.Warn("command failed", "error", k.String(), "detail", res.Err.Detail(), "elapsed", time.Since(start))
	} else {
		logger.Info("command finished", "elapsed", time.Since(start))
	}
	return res
}

func (o *Orchestrator) reply(command, output, errText string) *quill.CommandResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.replyLocked(command, output, errText)
}

func (o *Orchestrator) replyLocked(command, output, errText string) *quill.CommandResponse {
	controls := o.state.Controls()
	return &quill.CommandResponse{
		Command:  command,
		Output:   output,
		Error:    errText,
		State:    o.state.String(),
		Controls: &controls,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
