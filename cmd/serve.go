package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/signalnine/riskarena/internal/api"
	"github.com/signalnine/riskarena/internal/events"
	"github.com/signalnine/riskarena/internal/metrics"
	"github.com/signalnine/riskarena/internal/result"
)

var (
	flagAddr  string
	flagTrace bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept evaluation requests over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&flagTrace, "trace", false, "print OpenTelemetry spans to stderr")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagTrace {
		shutdown, err := metrics.InitTracing(os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	h, err := buildHarness(cfg, log, runDir)
	if err != nil {
		return err
	}
	defer h.Close()

	hub := events.NewHub(log)
	h.Orchestrator.Observers = append(h.Orchestrator.Observers, hub, metrics.NewCollector(nil))

	opts := api.Options{
		Evaluator:  h.Orchestrator,
		Catalog:    h.Orchestrator.Catalog,
		ResultsDir: cfg.Results.Dir,
		PublicURL:  publicURL(cfg.Server.PublicURL, addr),
		Events:     hub,
		Metrics:    promhttp.Handler(),
		Logger:     log,
	}
	if h.Leaderboard != nil {
		opts.Ranking = h.Leaderboard
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving", "addr", addr, "run_dir", runDir, "card_url", opts.PublicURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// publicURL is the URL advertised in the agent card.
func publicURL(configured, addr string) string {
	if configured != "" {
		return configured
	}
	host := addr
	if len(host) > 0 && host[0] == ':' {
		host = "127.0.0.1" + host
	}
	return fmt.Sprintf("http://%s/", host)
}
