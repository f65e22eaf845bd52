package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/command"
	"github.com/Paranoid-AF/quill/complete"
	"github.com/Paranoid-AF/quill/gateway"
)

// Completer answers completion triggers. A false result means the trigger
// was superseded and nothing must be written back.
type Completer interface {
	Complete(ctx context.Context, req *quill.CompletionRequest) (*quill.CompletionResponse, bool)
	Close()
}

// Backend is everything built from one configuration.
type Backend struct {
	Invoker   command.Invoker
	Completer Completer
	Prompts   *command.Prompts
	// Correlator orders completion results across reloads. Nil means the
	// server creates one.
	Correlator *complete.Correlator
}

// BackendBuilder rebuilds a backend for a new configuration, keeping the
// server's correlator.
type BackendBuilder func(cfg *quill.Config, correlator *complete.Correlator) *Backend

// NewBackend builds the gateway, completion engine and prompts for cfg.
// correlator may be nil.
func NewBackend(cfg *quill.Config, correlator *complete.Correlator) *Backend {
	if correlator == nil {
		correlator = complete.NewCorrelator(quill.CancelSuperseded(cfg))
	}
	gw := gateway.NewFromConfig(cfg)
	return &Backend{
		Invoker:    gw,
		Completer:  complete.NewEngineFromConfig(gw, cfg, correlator),
		Prompts:    command.LoadPrompts(),
		Correlator: correlator,
	}
}

// Close releases the backend's resources and waits for inference
// processes that already replied to exit.
func (b *Backend) Close() {
	if b.Completer != nil {
		b.Completer.Close()
	}
	if w, ok := b.Invoker.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// defaultSession holds panels that do not send a session ID.
const defaultSession = "default"

// Server listens on a Unix domain socket for panel, completion and config
// requests, one JSON line per connection.
type Server struct {
	listener   net.Listener
	sockPath   string
	newBackend BackendBuilder
	correlator *complete.Correlator

	closeOnce sync.Once

	mu      sync.Mutex
	backend *Backend
	panels  map[string]*command.Orchestrator
}

// NewServer creates a new IPC server bound to the given socket path.
func NewServer(sockPath string) (*Server, error) {
	return NewServerWithBackend(sockPath, loadBackend(NewBackend), NewBackend)
}

// NewServerWithBackend creates a server around b. newBackend, if non-nil,
// is used to rebuild the backend when the configuration is reloaded.
func NewServerWithBackend(sockPath string, b *Backend, newBackend BackendBuilder) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	correlator := b.Correlator
	if correlator == nil {
		correlator = complete.NewCorrelator(false)
	}

	return &Server{
		listener:   listener,
		sockPath:   sockPath,
		newBackend: newBackend,
		correlator: correlator,
		backend:    b,
		panels:     make(map[string]*command.Orchestrator),
	}, nil
}

func loadBackend(build BackendBuilder) *Backend {
	cfg, err := quill.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = quill.DefaultConfig()
	}
	for _, w := range quill.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}
	return build(cfg, nil)
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server, the backend, and removes the socket file.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.listener.Close()
		os.Remove(s.sockPath)
		s.mu.Lock()
		b := s.backend
		s.mu.Unlock()
		if b != nil {
			b.Close()
		}
	})
}

// Invoke runs req on the current backend. Panels call through the server
// so that a reload takes effect for commands issued afterwards.
func (s *Server) Invoke(ctx context.Context, req gateway.Request) gateway.Result {
	return s.current().Invoker.Invoke(ctx, req)
}

func (s *Server) current() *Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Panel returns the command orchestrator for a panel session, creating it
// on first use.
func (s *Server) Panel(sessionID string) *command.Orchestrator {
	if sessionID == "" {
		sessionID = defaultSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.panels[sessionID]
	if !ok {
		o = command.New(s, s.backend.Prompts, slog.Default().With("session", sessionID))
		s.panels[sessionID] = o
	}
	return o
}

// dropPanel forgets a panel session.
func (s *Server) dropPanel(sessionID string) {
	s.mu.Lock()
	delete(s.panels, sessionID)
	s.mu.Unlock()
}

// envelope holds the fields used to route an incoming line.
type envelope struct {
	Command string `json:"command"`
	Action  string `json:"action"`
	Type    string `json:"type"`
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "data", string(raw))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("invalid request", "error", err)
		writeLine(conn, quill.CommandResponse{Command: quill.CommandError, Error: "invalid request: " + err.Error()})
		return
	}

	switch {
	case env.Action != "":
		var req quill.ConfigRequest
		json.Unmarshal(raw, &req)
		writeLine(conn, s.handleConfigRequest(&req))

	case env.Command != "":
		var req quill.CommandRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeLine(conn, quill.CommandResponse{Command: quill.CommandError, Error: "invalid request: " + err.Error()})
			return
		}
		// Commands run to completion even if the client goes away.
		writeLine(conn, s.Panel(req.SessionID).Handle(context.Background(), &req))

	case env.Type != "":
		var req quill.CompletionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeLine(conn, quill.CompletionResponse{
				Items: []quill.Item{},
				Error: &quill.Error{Code: "invalid_request", Message: err.Error()},
			})
			return
		}
		resp, ok := s.current().Completer.Complete(context.Background(), &req)
		// Superseded: the client has already moved on.
		if !ok {
			return
		}
		writeLine(conn, resp)

	default:
		slog.Warn("unroutable request", "data", string(raw))
		writeLine(conn, quill.CommandResponse{Command: quill.CommandError, Error: "request has no command, type or action"})
	}
}

func (s *Server) handleConfigRequest(req *quill.ConfigRequest) *quill.ConfigResponse {
	var resp quill.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := quill.LoadConfig()
		if err != nil {
			resp.Error = &quill.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Config = cfg
		}

	case "reload":
		cfg, err := s.Reload()
		if err != nil {
			resp.Error = &quill.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Config = cfg
		}

	case "defaults":
		resp.Config = quill.DefaultConfig()

	case "validate":
		cfg, err := quill.LoadConfig()
		if err != nil {
			resp.Error = &quill.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Warnings = quill.ValidateConfig(cfg)
		}

	default:
		resp.Error = &quill.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}
	return &resp
}

// Reload rebuilds the backend from the configuration on disk. Requests
// already running finish on the old backend. The correlator is carried
// over, so a completion still running on the old backend is dropped once
// the new one issues a newer trigger for the same site.
func (s *Server) Reload() (*quill.Config, error) {
	cfg, err := quill.LoadConfig()
	if err != nil {
		slog.Warn("config reload failed", "error", err)
		return nil, err
	}
	if s.newBackend == nil {
		return cfg, nil
	}
	for _, w := range quill.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}
	next := s.newBackend(cfg, s.correlator)

	s.mu.Lock()
	prev := s.backend
	s.backend = next
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	slog.Info("engine reloaded")
	return cfg, nil
}

func writeLine(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	slog.Debug("response", "data", string(data))
	conn.Write(append(data, '\n'))
}
