package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveboard.dev/internal/board"
	"liveboard.dev/internal/config"
	"liveboard.dev/internal/persistence/auditlog"
	"liveboard.dev/internal/store"
	"liveboard.dev/internal/transport/feed"
	"liveboard.dev/internal/transport/httpapi"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		configPath = flag.String("config", "", "path to config.yaml (optional)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		dbPath     = flag.String("db", "", "sqlite db path (overrides config)")
		disableLog = flag.Bool("disable_audit", false, "disable the post audit log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.DBPath = ""
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	cfg.Normalize()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var audit board.AuditLogger
	if !*disableLog {
		al := auditlog.New(cfg.DataDir)
		defer al.Close()
		audit = al
	} else {
		logger.Printf("audit log disabled")
	}

	b := board.New(st, audit, board.Config{
		RateWindow:      time.Duration(cfg.RateLimits.PostWindowSeconds) * time.Second,
		RateMax:         cfg.RateLimits.PostMax,
		SubscriberQueue: cfg.Feed.SubscriberQueue,
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := b.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("board stopped: %v", err)
		}
	}()

	api := httpapi.NewServer(b, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := b.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP liveboard_posts_created_total Posts written through the store.\n")
		fmt.Fprintf(rw, "# TYPE liveboard_posts_created_total counter\n")
		fmt.Fprintf(rw, "liveboard_posts_created_total %d\n", m.PostsCreated)

		fmt.Fprintf(rw, "# HELP liveboard_posts_rate_limited_total Creates rejected by the per-author rate limit.\n")
		fmt.Fprintf(rw, "# TYPE liveboard_posts_rate_limited_total counter\n")
		fmt.Fprintf(rw, "liveboard_posts_rate_limited_total %d\n", m.RateLimited)

		fmt.Fprintf(rw, "# HELP liveboard_feed_subscribers Currently connected feed subscribers.\n")
		fmt.Fprintf(rw, "# TYPE liveboard_feed_subscribers gauge\n")
		fmt.Fprintf(rw, "liveboard_feed_subscribers %d\n", m.Subscribers)

		fmt.Fprintf(rw, "# HELP liveboard_feed_fanout_drops_total Insert frames dropped on slow subscribers.\n")
		fmt.Fprintf(rw, "# TYPE liveboard_feed_fanout_drops_total counter\n")
		fmt.Fprintf(rw, "liveboard_feed_fanout_drops_total %d\n", m.FanoutDrops)

		fmt.Fprintf(rw, "# HELP liveboard_queue_depth Board channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE liveboard_queue_depth gauge\n")
		fmt.Fprintf(rw, "liveboard_queue_depth{queue=%q} %d\n", "create", m.QueueDepths.Create)
		fmt.Fprintf(rw, "liveboard_queue_depth{queue=%q} %d\n", "list", m.QueueDepths.List)
	})
	mux.HandleFunc("/api/posts", api.ListHandler())
	mux.HandleFunc("/api/posts/create", api.CreateHandler())
	mux.HandleFunc("/v1/feed", feed.NewServer(b, logger).Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (db=%s)", cfg.Addr, cfg.DBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
