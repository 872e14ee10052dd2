package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ben-leadtech/etlkit/internal/definition"
	"github.com/ben-leadtech/etlkit/internal/runner"
	"github.com/ben-leadtech/etlkit/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

type runFlags struct {
	file        string
	update      bool
	dryRun      bool
	metricsAddr string
}

func (a *app) runCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline",
		Long: `Runs the pipeline described by a definition file.

SIGINT or SIGTERM stops extraction and lets in-flight load batches finish
before the load session is committed or aborted.`,
		Example: "  etlkit run -f pipelines/opportunity-history.yaml --update",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd, f)
		},
	}
	fileFlag(cmd, &f.file)
	cmd.Flags().BoolVar(&f.update, "update", false, "merge the last lookback days into the existing output")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the transformed table instead of loading it")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	return cmd
}

func (a *app) run(ctx context.Context, cmd *cobra.Command, f runFlags) (err error) {
	if err := requireFile(f.file); err != nil {
		return err
	}
	def, err := definition.Load(f.file)
	if err != nil {
		return err
	}

	opts := runner.Options{
		Logger:     a.logger,
		UpdateMode: f.update,
		Factories:  a.factories,
	}
	if f.dryRun {
		opts.DryRun = cmd.OutOrStdout()
	}

	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Registerer = reg

		shutdown, err := a.serveMetrics(f.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, shutdown()) }()
	}

	p, closer, err := runner.Build(ctx, def, a.env, opts)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closer.Close()) }()

	a.logger.Info("running pipeline", "pipeline", def.Name, "run_id", p.RunID(), "config", p.Config())
	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("pipeline %s: %w", def.Name, err)
	}
	return nil
}

// serveMetrics serves /metrics until the returned shutdown func is called.
func (a *app) serveMetrics(addr string, reg *prometheus.Registry) (func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(ctx)
		<-done
		return err
	}, nil
}
