package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	"github.com/strongdm/jstrack/pkg/jstrack"
	"github.com/strongdm/jstrack/pkg/jstrack/adapters/ginsource"
	"github.com/strongdm/jstrack/pkg/jstrack/config"
	"github.com/strongdm/jstrack/pkg/jstrack/metrics"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/async"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/beacon"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/clickhouse"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/cxdb"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/multi"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/noop"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/redis"
	"github.com/strongdm/jstrack/pkg/jstrack/sinks/stderr"
)

// buildLogger returns a console logger when pretty output is requested and a
// JSON logger otherwise.
func buildLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	w := out
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", "jstrack-relay").
		Logger()
}

// buildSink connects every enabled sink and combines them. The returned
// cleanup releases clients the sinks do not own.
func buildSink(cfg config.SinksConfig, logger zerolog.Logger) (jstrack.Sink, func(), error) {
	var (
		sinks    []jstrack.Sink
		cleanups []func()
	)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (jstrack.Sink, func(), error) {
		for _, s := range sinks {
			s.Close()
		}
		cleanup()
		return nil, nil, err
	}

	if cfg.Stderr.Enabled {
		var opts []stderr.StderrSinkOption
		if cfg.Stderr.Verbose {
			opts = append(opts, stderr.WithVerbose())
		}
		sinks = append(sinks, stderr.NewStderrSink(opts...))
	}

	if cfg.Beacon.Enabled {
		var opts []beacon.BeaconSinkOption
		for k, v := range cfg.Beacon.Headers {
			opts = append(opts, beacon.WithHeader(k, v))
		}
		if cfg.Beacon.Timeout > 0 {
			opts = append(opts, beacon.WithHTTPClient(&http.Client{Timeout: cfg.Beacon.Timeout}))
		}
		sinks = append(sinks, beacon.NewBeaconSink(cfg.Beacon.URL, opts...))
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(fmt.Errorf("redis sink: %w", err))
		}
		opts := []redis.RedisSinkOption{redis.WithKey(cfg.Redis.Key)}
		if cfg.Redis.MaxBatches > 0 {
			opts = append(opts, redis.WithMaxBatches(cfg.Redis.MaxBatches))
		}
		sinks = append(sinks, redis.NewRedisSink(client, opts...))
	}

	if cfg.ClickHouse.Enabled {
		conn, err := clickhouse.NewConn(clickhouse.ConnConfig{
			Host:     cfg.ClickHouse.Host,
			Port:     cfg.ClickHouse.Port,
			Database: cfg.ClickHouse.Database,
			User:     cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			return fail(fmt.Errorf("clickhouse sink: %w", err))
		}
		sinks = append(sinks, clickhouse.NewClickHouseSink(conn, clickhouse.WithTable(cfg.ClickHouse.Table)))
	}

	if cfg.CXDB.Enabled {
		tag := cfg.CXDB.ClientTag
		if tag == "" {
			tag = "jstrack-relay"
		}
		client, err := cxdbclient.Dial(cfg.CXDB.Addr, cxdbclient.WithClientTag(tag))
		if err != nil {
			return fail(fmt.Errorf("cxdb sink: %w", err))
		}
		cleanups = append(cleanups, func() { client.Close() })

		opts := []cxdb.CXDBSinkOption{cxdb.WithClientTag(tag)}
		if cfg.CXDB.ContextID != 0 {
			opts = append(opts, cxdb.WithContextID(cfg.CXDB.ContextID))
		}
		if len(cfg.CXDB.Labels) > 0 {
			opts = append(opts, cxdb.WithOrphanLabels(cfg.CXDB.Labels))
		}
		sinks = append(sinks, cxdb.NewCXDBSink(client, opts...))
	}

	var sink jstrack.Sink
	switch len(sinks) {
	case 0:
		logger.Warn().Msg("no sinks enabled; records will be discarded")
		sink = noop.NewNoopSink()
	case 1:
		sink = sinks[0]
	default:
		sink = multi.NewMultiSink(sinks...)
	}

	if cfg.Async.Enabled {
		opts := []async.AsyncSinkOption{
			async.WithOnDropped(func(records int) {
				logger.Warn().Int("records", records).Msg("async sink full; dropped oldest batch")
			}),
			async.WithOnError(func(err error) {
				logger.Error().Err(err).Msg("async sink write failed")
			}),
		}
		if cfg.Async.QueueSize > 0 {
			opts = append(opts, async.WithQueueSize(cfg.Async.QueueSize))
		}
		sink = async.NewAsyncSink(sink, opts...)
	}

	return sink, cleanup, nil
}

// requestLogger logs every request with structured fields.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func newRouter(src *ginsource.Source, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	src.Register(router)
	return router
}

// run serves the relay until ctx is cancelled, then drains the pipeline.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m, err := metrics.New(ctx, cfg.Metrics.ToMetrics())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	sink, cleanup, err := buildSink(cfg.Sinks, logger)
	if err != nil {
		m.Shutdown(context.Background())
		return err
	}
	defer cleanup()

	src := ginsource.New(ginsource.WithLogger(logger))
	opts := append(cfg.Pipeline.Options(),
		jstrack.WithSink(sink),
		jstrack.WithObserver(m),
		jstrack.WithEventSource(src),
		jstrack.WithLogger(logger),
		jstrack.WithConsole(func(arg any) {
			logger.Debug().Interface("arg", arg).Msg("console.error")
		}),
	)
	p, err := jstrack.NewPipeline(opts...)
	if err != nil {
		sink.Close()
		m.Shutdown(context.Background())
		return fmt.Errorf("pipeline: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		p.Close(context.Background())
		m.Shutdown(context.Background())
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	server := &http.Server{
		Handler:           newRouter(src, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("relay listening")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.Default().Server.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if err := p.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("pipeline close")
	}
	if err := m.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown")
	}
	return runErr
}
