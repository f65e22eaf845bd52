// Command quilld is the quill daemon.
// It listens on a Unix domain socket for panel commands and completion
// triggers from editor clients, and answers them by running the external
// inference process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	quill "github.com/Paranoid-AF/quill"
	"github.com/Paranoid-AF/quill/gateway"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose bool
		wsAddr  string
	)

	rootCmd := &cobra.Command{
		Use:          "quilld",
		Short:        "quill inference daemon",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), wsAddr)
		},
	}
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log every request and response")
	rootCmd.Flags().StringVar(&wsAddr, "ws", "", "serve the panel over WebSocket on this address (overrides server.websocket_addr)")

	rootCmd.AddCommand(newInvokeCmd(), newLocateCmd())
	return rootCmd
}

func runDaemon(ctx context.Context, wsAddr string) error {
	socketPath := resolveSocketPath()
	slog.Info("starting", "socket", socketPath, "version", Version)

	srv, err := NewServer(socketPath)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer srv.Close()

	if wsAddr == "" {
		if cfg, err := quill.LoadConfig(); err == nil {
			wsAddr = cfg.Server.WebSocketAddr
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Serve()
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return watchConfig(ctx, quill.ConfigPath(), func() {
			srv.Reload()
		})
	})

	if wsAddr != "" {
		httpSrv := &http.Server{Addr: wsAddr, Handler: srv.PanelHandler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			slog.Info("panel websocket listening", "addr", wsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	// Unblocks Serve once a signal arrives or another member fails.
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		srv.Close()
		return nil
	})

	slog.Info("ready")
	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newInvokeCmd() *cobra.Command {
	var (
		kindName     string
		prompt       string
		contractType string
		lang         string
	)
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run one inference request and print the normalized result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := gateway.ParseKind(kindName)
			if err != nil {
				return err
			}
			if prompt == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				prompt = string(data)
			}

			cfg, err := quill.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			gw := gateway.NewFromConfig(cfg)
			defer gw.Wait()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			res := gw.Invoke(ctx, gateway.Request{
				Kind:         kind,
				PromptOrCode: prompt,
				Meta:         gateway.Metadata{ContractType: contractType, Lang: lang},
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resultJSON(res)); err != nil {
				return err
			}
			if _, failed := res.Failed(); failed {
				return errors.New(res.Err.Kind.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kindName, "kind", "generate", "request kind: generate, retry, deploy, inline or dropdown")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text, or the code to deploy (- reads stdin)")
	cmd.Flags().StringVar(&contractType, "contract-type", "", "contract type (deploy only)")
	cmd.Flags().StringVar(&lang, "lang", "", "contract language (deploy only)")
	return cmd
}

func newLocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate [kind...]",
		Short: "Show which interpreter and script serve each request kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"generate", "deploy", "inline", "dropdown"}
			}
			cfg, err := quill.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			gw := gateway.NewFromConfig(cfg)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "project root: %s\n", quill.ResolveProjectRoot(cfg))
			var failed bool
			for _, name := range args {
				kind, err := gateway.ParseKind(name)
				if err != nil {
					return err
				}
				target, err := gw.Locate(kind)
				if err != nil {
					failed = true
					fmt.Fprintf(out, "%-9s %v\n", name, err)
					continue
				}
				fmt.Fprintf(out, "%-9s %s\n", name, strings.Join(target.Argv(), " "))
			}
			if failed {
				return errors.New("some kinds could not be resolved")
			}
			return nil
		},
	}
}

// resultOutput is the printed form of a gateway result.
type resultOutput struct {
	Result      string   `json:"result"`
	Response    string   `json:"response,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`
	Message     string   `json:"message,omitempty"`
	Stderr      string   `json:"stderr,omitempty"`
	Tried       []string `json:"tried,omitempty"`
}

func resultJSON(res gateway.Result) resultOutput {
	out := resultOutput{Result: res.Kind.String()}
	switch res.Kind {
	case gateway.OK:
		out.Response = res.Payload
	case gateway.Suggestions:
		out.Suggestions = res.Items
	case gateway.Failed:
		out.Error = res.Err.Kind.String()
		out.Message = res.Err.Message
		out.Stderr = res.Err.Stderr
		out.Tried = res.Err.Tried
	}
	return out
}

func resolveSocketPath() string {
	if path := os.Getenv("QUILL_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/quill.sock"
	}
	return fmt.Sprintf("/tmp/quill-%d.sock", os.Getuid())
}
