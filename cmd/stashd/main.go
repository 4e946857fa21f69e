package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tabstash/api/internal/app"
	"tabstash/api/internal/archive"
	"tabstash/api/internal/changes"
	"tabstash/api/internal/chrome"
	"tabstash/api/internal/config"
	"tabstash/api/internal/deferq"
	"tabstash/api/internal/detach"
	"tabstash/api/internal/evict"
	"tabstash/api/internal/journal"
	"tabstash/api/internal/reconcile"
	"tabstash/api/internal/registry"
	"tabstash/api/internal/search"
	"tabstash/api/internal/stash"
	"tabstash/api/internal/store"
)

func main() {
	cfg := config.Load()
	policy := evict.Policy{
		MinKeep:     cfg.MinKeepTabs,
		TargetCount: cfg.TargetTabCount,
		TargetAge:   cfg.TargetAge,
	}
	if err := policy.Validate(); err != nil {
		log.Fatalf("invalid eviction policy: %v", err)
	}
	logger := log.Default()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: cfg.DBMaxConns})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	treeStore := store.NewPostgresStore(db, cfg.RootTitle)
	if _, err := treeStore.EnsureRoot(ctx); err != nil {
		log.Fatalf("stash root failed: %v", err)
	}

	tabRegistry, err := registry.NewRedisRegistry(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer tabRegistry.Close()

	controller, closeBrowser, err := chrome.Connect(ctx, cfg.ChromeURL, tabRegistry, logger)
	if err != nil {
		log.Fatalf("browser connection failed: %v", err)
	}
	defer closeBrowser()

	detached := detach.New(ctx, logger)

	var observers []reconcile.Observer
	var history *journal.Journal
	if strings.TrimSpace(cfg.JournalDir) != "" {
		history, err = journal.Open(cfg.JournalDir)
		if err != nil {
			log.Fatalf("journal open failed: %v", err)
		}
		observers = append(observers, history)
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		snapshots, err := archive.New(archive.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: snapshot archive disabled: %v", err)
		} else if err := snapshots.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: snapshot archive disabled: %v", err)
		} else {
			observers = append(observers, snapshots)
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))
	observers = append(observers, searchService)

	engine := reconcile.New(treeStore, controller, reconcile.NewManagedSet(), detached,
		reconcile.WithObservers(observers...),
		reconcile.WithLogger(logger),
	)

	// Notifications that arrive before the baseline exists are held back so
	// the first pass diffs against it.
	pending := deferq.New()
	handleEvent := engine.Handler(ctx)
	deliver := pending.Wrap(func(args ...any) {
		handleEvent(args[0].(changes.Event))
	})
	feed := newFeed(cfg, tabRegistry, logger)
	go func() {
		if err := feed.Run(ctx, func(ev changes.Event) { deliver(ev) }); err != nil {
			log.Printf("change feed stopped: %v", err)
		}
	}()

	if err := engine.Init(ctx); err != nil {
		log.Fatalf("initial snapshot failed: %v", err)
	}
	pending.Unplug()

	scheduler := evict.New(controller, policy, evict.WithLogger(logger))
	go scheduler.Run(ctx)

	components := app.Components{
		Store:    treeStore,
		Registry: tabRegistry,
		Engine:   engine,
		Evictor:  scheduler,
		Stash:    stash.NewService(treeStore, controller, logger),
		Search:   searchService,
		Detached: detached,
	}
	if history != nil {
		components.Journal = history
	}
	service := app.New(cfg, components)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("tabstash daemon listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	detached.Wait()
}

// newFeed picks the change source. The postgres listener relays every event
// to redis so other daemons can run with STASH_CHANGE_FEED=redis.
func newFeed(cfg config.Config, reg *registry.RedisRegistry, logger *log.Logger) changes.Feed {
	relay := changes.NewRedisFeed(reg.Client(), logger)
	if cfg.ChangeFeed == "redis" {
		return relay
	}
	return relayingFeed{source: changes.NewPostgresFeed(cfg.DatabaseURL, logger), relay: relay}
}

type relayingFeed struct {
	source changes.Feed
	relay  *changes.RedisFeed
}

func (f relayingFeed) Run(ctx context.Context, handle changes.Handler) error {
	return f.source.Run(ctx, f.relay.Relay(ctx, handle))
}
