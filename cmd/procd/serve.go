package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	logger "github.com/hanpama/procroute/internal/logger"
	"github.com/hanpama/procroute/internal/metrics"
	"github.com/hanpama/procroute/internal/middleware/authn"
	"github.com/hanpama/procroute/internal/middleware/cache"
	"github.com/hanpama/procroute/internal/otel"
	"github.com/hanpama/procroute/internal/server"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand returns the command serving the demo procedures.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registered procedures over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := ReadConfig()
			if err != nil {
				return err
			}
			if err := config.Verify(); err != nil {
				return err
			}
			log, err := logger.NewLogger(config.Log.Format, config.Log.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", config.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", config.HTTP.Addr, err)
			}
			return NewServerContext(config, log).Run(ctx, ln)
		},
	}
	flags := cmd.Flags()
	defineServeFlags(flags)
	cmd.PreRun = bindFlagsFunc(flags, serveBindings)
	return cmd
}

// ServerContext owns everything procd needs while it serves requests.
type ServerContext struct {
	Config *Config
	Logger logger.Logger
}

func NewServerContext(config *Config, log logger.Logger) *ServerContext {
	return &ServerContext{Config: config, Logger: log}
}

// Handler wires the registry, the HTTP handler and the metrics endpoint.
// The returned cleanup releases what Handler started.
func (s *ServerContext) Handler() (http.Handler, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	headers := s.metadataHeaders()
	var c *cache.Cache
	if s.Config.Cache.Enabled {
		var err error
		c, err = cache.NewCache(s.Config.Cache.Size, s.Config.Cache.TTL, cache.Vary(headers...))
		if err != nil {
			return nil, nil, fmt.Errorf("cache init: %w", err)
		}
		cleanups = append(cleanups, c.Close)
	}

	reg, err := newDemo(s.Config, s.Logger, c).router().Build()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("register procedures: %w", err)
	}

	opts := []server.Option{
		server.WithTimeout(s.Config.HTTP.Timeout),
		server.WithMaxBodyBytes(s.Config.HTTP.MaxBodyBytes),
		server.WithContextFactory(newSession),
	}
	if s.Config.HTTP.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if len(s.Config.HTTP.CORSAllowedOrigins) > 0 {
		opts = append(opts, server.WithCORS(s.Config.HTTP.CORSAllowedOrigins...))
	}
	if len(headers) > 0 {
		opts = append(opts, server.WithMetadataHeaders(headers...))
	}
	h, err := server.New(reg, opts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	if s.Config.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		collector := metrics.New(promReg)
		if bus := eventbus.Current(); bus != nil {
			cleanups = append(cleanups, collector.Subscribe(bus))
		}
		mux.Handle(s.Config.Metrics.Path, promhttp.HandlerFor(
			prometheus.Gatherers{promReg, prometheus.DefaultGatherer},
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/", h)

	s.Logger.Info("registered procedures", zap.Int("count", reg.Len()))
	return mux, cleanup, nil
}

// metadataHeaders returns the configured forwarded headers, plus the
// authorization header whenever bearer tokens are verified.
func (s *ServerContext) metadataHeaders() []string {
	headers := slices.Clone(s.Config.HTTP.MetadataHeaders)
	if s.Config.Authn.Secret == "" {
		return headers
	}
	for _, h := range headers {
		if strings.EqualFold(h, authn.HeaderAuthorization) {
			return headers
		}
	}
	return append(headers, authn.HeaderAuthorization)
}

// Run serves on ln until ctx is done, then shuts down gracefully.
func (s *ServerContext) Run(ctx context.Context, ln net.Listener) error {
	if eventbus.Current() == nil {
		eventbus.Use(eventbus.New())
	}
	shutdownTracing, err := otel.Setup(s.Config.Trace.Endpoint, s.Config.Trace.ServiceName)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	h, cleanup, err := s.Handler()
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("procd listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.Logger.Info("attempting to shutdown gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.Logger.Info("server exited gracefully")
	return nil
}
