// CLAUDE:SUMMARY CLI entry point for heapview: one-shot snapshot/timeline capture to a file, or a long-running JSON API and MCP tool server.
// Command heapview captures and browses JavaScript heap snapshots of a
// Chrome page.
//
// Usage:
//
//	heapview -url https://example.com -out page.heapsnapshot     # one snapshot, saved
//	heapview -url https://example.com -track 10s -out t.heaptimeline
//	heapview -config heapview.yaml -http :8080                   # JSON API
//	heapview -config heapview.yaml -mcp                          # MCP tools on stdio
//	heapview -replay capture.heapsnapshot -http :8080            # offline
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/heapview"
)

type options struct {
	configPath string
	url        string
	replay     string
	out        string
	track      time.Duration
	httpAddr   string
	mcp        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to heapview.yaml config file")
	flag.StringVar(&opts.url, "url", "", "page to profile (overrides target.url)")
	flag.StringVar(&opts.replay, "replay", "", "serve a recorded .heapsnapshot instead of launching Chrome")
	flag.StringVar(&opts.out, "out", "", "capture once, save to this file and exit")
	flag.DurationVar(&opts.track, "track", 0, "with -out, record an allocation timeline for this long")
	flag.StringVar(&opts.httpAddr, "http", "", "listen address of the JSON API (overrides http.addr)")
	flag.BoolVar(&opts.mcp, "mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("heapview: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg := heapview.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = heapview.LoadConfigFile(opts.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if opts.url != "" {
		cfg.Target.URL = opts.url
	}
	if opts.httpAddr != "" {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if opts.mcp {
		cfg.MCP.Enabled = true
	}

	popts := []heapview.Option{heapview.WithLogger(logger)}
	if opts.replay != "" {
		payload, err := os.ReadFile(opts.replay)
		if err != nil {
			return fmt.Errorf("read replay: %w", err)
		}
		popts = append(popts, heapview.WithBackend(heapview.NewReplayBackend(payload)))
	}
	if len(cfg.Sinks) == 0 && opts.out == "" && !cfg.MCP.Enabled {
		popts = append(popts, heapview.WithSinks(heapview.NewStdoutSink(nil)))
	}

	p := heapview.New(cfg, popts...)
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer p.Stop()

	if opts.out != "" {
		return captureOnce(ctx, logger, p, opts)
	}
	if cfg.HTTP.Addr == "" && !cfg.MCP.Enabled {
		fmt.Fprintln(os.Stderr, "usage: heapview -out <file> | -http <addr> | -mcp  [-config <file>] [-url <url>] [-replay <file>]")
		os.Exit(2)
	}
	return serve(ctx, logger, p, cfg)
}

func captureOnce(ctx context.Context, logger *slog.Logger, p *heapview.Profiler, opts options) error {
	var (
		info heapview.SessionInfo
		err  error
	)
	if opts.track > 0 {
		if info, err = p.StartTracking(ctx); err != nil {
			return fmt.Errorf("start tracking: %w", err)
		}
		logger.Info("heapview: tracking", "session", info.UID, "duration", opts.track)
		select {
		case <-time.After(opts.track):
		case <-ctx.Done():
		}
		// The timeline is still saved after an interrupt.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if info, err = p.StopTracking(ctx); err != nil {
			return fmt.Errorf("stop tracking: %w", err)
		}
	} else if info, err = p.TakeSnapshot(ctx); err != nil {
		return fmt.Errorf("take snapshot: %w", err)
	}

	if info, err = p.Wait(ctx, info.UID); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	path, err := p.Save(ctx, info.UID, opts.out)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	logger.Info("heapview: saved", "path", path, "size", info.Size, "nodes", info.NodeCount)
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, p *heapview.Profiler, cfg *heapview.Config) error {
	errc := make(chan error, 2)

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           p.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("heapview: http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: cfg.MCP.Name, Version: "1.0.0"}, nil)
		p.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Error("heapview: http shutdown", "error", serr)
		}
	}
	logger.Info("heapview: stopped serving")
	return err
}
