package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Paranoid-AF/quill/locate"
)

// handle owns one live process bound to one request: its pipes, its
// timer and its exit. It is used once.
type handle struct {
	target    *locate.Target
	payload   []byte
	timeout   time.Duration // zero means unbounded
	reapGrace time.Duration
	maxReply  int64
	stderrMax int
	env       []string
	mask      *redactor
	dir       string
	logger    *slog.Logger
	// reaping tracks processes left to exit after their reply was returned.
	reaping *sync.WaitGroup
}

func (h *handle) run(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return FailedResult(Cancelled, "request cancelled before launch: %v", err)
	}

	argv := h.target.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = h.env
	cmd.Dir = h.dir
	// exec writes the payload from its own goroutine and closes stdin, so a
	// script that reads to EOF sees exactly one document.
	cmd.Stdin = bytes.NewReader(h.payload)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	stderr := newStderrTail(h.stderrMax, h.logger, h.mask)
	cmd.Stderr = stderr
	// Bounds how long Wait keeps copying after exit when a grandchild
	// inherited the pipes.
	cmd.WaitDelay = h.reapGrace
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return Result{Kind: Failed, Err: &Error{
			Kind:    SpawnFailure,
			Message: fmt.Sprintf("failed to start inference process: %v", err),
		}}
	}

	h.logger.Debug("inference process spawned", "pid", cmd.Process.Pid, "script", h.target.Script)

	var g errgroup.Group
	replies := make(chan Result, 1)
	exited := make(chan error, 1)

	g.Go(func() error {
		raw, err := readReply(io.LimitReader(pr, h.maxReply))
		if err != nil {
			replies <- FailedResult(ProtocolError, "malformed reply: %v", err)
		} else {
			replies <- normalize(raw)
		}
		// Anything after the first document is ignored but must be drained
		// so the process is never blocked writing to a full pipe.
		_, _ = io.Copy(io.Discard, pr)
		return nil
	})

	g.Go(func() error {
		err := cmd.Wait()
		pw.Close()
		exited <- err
		return nil
	})

	var timer <-chan time.Time
	if h.timeout > 0 {
		t := time.NewTimer(h.timeout)
		defer t.Stop()
		timer = t.C
	}

	var res Result
	select {
	case res = <-replies:
		if res.Kind != Failed {
			h.reaping.Go(func() {
				h.reap(cmd, exited)
				g.Wait()
			})
			return res
		}
		// A failed reply waits for exit so the stderr tail is complete.
		h.reap(cmd, exited)

	case <-timer:
		h.kill(cmd, exited, "timeout")
		res = FailedResult(Timeout, "inference process did not reply within %s", h.timeout)

	case <-ctx.Done():
		h.kill(cmd, exited, "cancelled")
		res = FailedResult(Cancelled, "request cancelled: %v", ctx.Err())
	}

	g.Wait()

	if res.Kind == Failed {
		res.Err.Stderr = stderr.String()
	}
	return res
}

// reap waits for a process that already replied to exit on its own, and
// kills it if it outlives the grace period.
func (h *handle) reap(cmd *exec.Cmd, exited <-chan error) {
	t := time.NewTimer(h.reapGrace)
	defer t.Stop()

	select {
	case err := <-exited:
		if err != nil {
			h.logger.Debug("inference process exited", "pid", cmd.Process.Pid, "error", err)
		}
	case <-t.C:
		h.kill(cmd, exited, "lingering after reply")
	}
}

func (h *handle) kill(cmd *exec.Cmd, exited <-chan error, reason string) {
	h.logger.Debug("killing inference process group", "pid", cmd.Process.Pid, "reason", reason)
	if err := killProcessGroup(cmd); err != nil {
		h.logger.Debug("kill failed", "pid", cmd.Process.Pid, "error", err)
	}
	<-exited
}
