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
	"sync"
	"syscall"
	"time"

	"tollgate/internal/authority"
	"tollgate/internal/config"
	"tollgate/internal/events"
	"tollgate/internal/hitl"
	"tollgate/internal/logging"
	"tollgate/internal/metrics"
	"tollgate/internal/push"
	"tollgate/internal/store"
	"tollgate/internal/web"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const defaultConsoleID = "console"

func main() {
	logging.Init("console", nil)
	if err := run(os.Args[1:], serveHTTP); err != nil {
		fatalf("console: %v", err)
	}
}

var serveHTTP = func(srv *http.Server) error { return srv.ListenAndServe() }
var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}

var newPostgresStore = store.NewPostgresStore
var newRedisClient = func(cfg config.PushConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
}
var newAuthorityClient = func(cfg config.AuthorityConfig) *authority.Client {
	client := authority.NewClient(cfg.BaseURL, cfg.Token)
	if timeout := cfg.Timeout(); timeout > 0 {
		client.Client = &http.Client{Timeout: timeout}
	}
	if cfg.RetryAttempts > 0 {
		client.RetryAttempts = uint(cfg.RetryAttempts)
	}
	return client
}

func run(args []string, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	addr := ":8090"
	cfg := config.Config{}
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cfg.Console.HTTPAddr != "" {
		addr = cfg.Console.HTTPAddr
	}

	var snapshots hitl.SnapshotStore
	var storePing func(ctx context.Context) error
	var audit hitl.AuditWriter
	switch {
	case cfg.Storage.PostgresDSN != "":
		consoleID := cfg.Storage.ConsoleID
		if consoleID == "" {
			consoleID = defaultConsoleID
		}
		pg, err := newPostgresStore(cfg.Storage.PostgresDSN, consoleID)
		if err != nil {
			return err
		}
		defer pg.Close()
		snapshots = pg
		storePing = pg.Ping
		audit = pg
	case cfg.Storage.SnapshotPath != "":
		snapshots = store.NewFileStore(cfg.Storage.SnapshotPath)
	default:
		snapshots = store.NewMemoryStore()
	}

	ledger := hitl.NewLedger(snapshots)
	if ttl := cfg.Sweeper.TTL(); ttl > 0 {
		ledger.TTL = ttl
	}
	if err := ledger.Restore(ctx); err != nil {
		return err
	}

	client := newAuthorityClient(cfg.Authority)
	resolver := &hitl.Resolver{Ledger: ledger, Authority: client, Audit: audit}
	gate := &hitl.CounterGate{Ledger: ledger, Client: client}
	ingestor := &hitl.Ingestor{Ledger: ledger}

	srv := web.NewServer(ledger, resolver, gate)
	srv.Goroutines = web.NewGoroutineTracker()
	srv.StorePing = storePing
	resolver.OnDecision = srv.PublishDecision
	gate.OnUpdate = srv.PublishSettings
	ingestor.Notify = srv.PublishPending

	sweeper := hitl.NewSweeper(ledger)
	sweeper.Audit = audit
	if interval := cfg.Sweeper.Interval(); interval > 0 {
		sweeper.Interval = interval
	}
	sweeper.Cron = cfg.Sweeper.Cron

	poller := hitl.NewPoller(client, ingestor)
	if interval := cfg.Pull.PollInterval(); interval > 0 {
		poller.PollInterval = interval
	}

	var wg sync.WaitGroup
	srv.Goroutines.Go(ctx, &wg, "sweeper", func(ctx context.Context) error { return sweeper.Run(ctx) })
	srv.Goroutines.Go(ctx, &wg, "pull-poller", func(ctx context.Context) error { return poller.Run(ctx) })

	if cfg.Push.RedisAddr != "" {
		sub := push.NewSubscriber(newRedisClient(cfg.Push))
		if cfg.Push.ApprovalChannel != "" {
			sub.ApprovalChannel = cfg.Push.ApprovalChannel
		}
		if cfg.Push.SettingsChannel != "" {
			sub.SettingsChannel = cfg.Push.SettingsChannel
		}
		if wait := cfg.Push.ReconnectWait(); wait > 0 {
			sub.ReconnectWait = wait
		}
		sub.OnApproval = func(raw []byte) {
			ev, err := events.ParsePushApproval(raw)
			if err != nil {
				metrics.EventsRejectedTotal.WithLabelValues("schema").Inc()
				slog.Warn("push approval rejected", "error", err)
				return
			}
			ingestor.Ingest(events.NormalizePush(ev))
		}
		sub.OnSettings = func(raw []byte) {
			ev, err := events.ParseSettingsChanged(raw)
			if err != nil {
				metrics.EventsRejectedTotal.WithLabelValues("schema").Inc()
				slog.Warn("push settings rejected", "error", err)
				return
			}
			gate.ApplyAuthoritative(ev.ProjectID, ev.Payload(), "push")
		}
		// A fresh subscription means pushes may have been missed while
		// disconnected. Reconcile immediately through the pull path.
		sub.OnSync = func(ctx context.Context) {
			if err := poller.SyncOnce(ctx); err != nil {
				slog.Warn("post-subscribe sync failed", "error", err)
			}
		}
		srv.Goroutines.Go(ctx, &wg, "push-subscriber", func(ctx context.Context) error { return sub.Run(ctx) })
	}

	mainSrv := &http.Server{Addr: addr, Handler: metrics.Middleware(srv.Mux)}
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- serve(mainSrv)
	}()

	slog.Info("console listening", "addr", addr)
	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	forceExit := time.AfterFunc(30*time.Second, func() { os.Exit(1) })
	defer forceExit.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = mainSrv.Shutdown(shutdownCtx)
	wg.Wait()
	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	default:
		return nil
	}
}
