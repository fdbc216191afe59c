package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/entrysync"
	"github.com/unkn0wn-root/entrysync/source"
)

const drainTimeout = 30 * time.Second

func NewServeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Handle storage events from NATS until interrupted",
		Long: `Subscribe to the configured NATS subject and handle every storage event.

With metrics.addr set, Prometheus metrics are served on /metrics.

Examples:
  entrysync serve --config /etc/entrysync.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root)
		},
	}
}

func runServe(ctx context.Context, root *RootOptions) error {
	a, err := build(ctx, root)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	nc, err := a.NATS()
	if err != nil {
		return WrapExitError(ExitCommandError, "connect to NATS", err)
	}
	n := a.Config.NATS
	sub, err := source.Subscribe(ctx, nc, n.Subject, n.Queue, a.Dispatcher, a.Log)
	if err != nil {
		return WrapExitError(ExitCommandError, "subscribe", err)
	}

	var srv *http.Server
	if addr := a.Config.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.Error("metrics listener failed", entrysync.Fields{"addr": addr, "err": err})
			}
		}()
	}
	a.Log.Info("serving", entrysync.Fields{"subject": n.Subject, "queue": n.Queue, "handlers": len(a.Handlers)})

	<-ctx.Done()
	a.Log.Info("shutting down", nil)

	// handlers must be done before the deferred Close tears down what they use
	dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := sub.Drain(dctx); err != nil {
		a.Log.Warn("drain subscription", entrysync.Fields{"err": err})
	}
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	return nil
}
