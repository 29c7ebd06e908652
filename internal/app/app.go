package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/samvad-feed-mailer/internal/config"
	"github.com/samvad-hq/samvad-feed-mailer/internal/content"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/internal/media"
	"github.com/samvad-hq/samvad-feed-mailer/internal/notify"
	"github.com/samvad-hq/samvad-feed-mailer/internal/pipeline"
	"github.com/samvad-hq/samvad-feed-mailer/internal/scheduler"
	"github.com/samvad-hq/samvad-feed-mailer/internal/storage"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/feeds"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/httpclient"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/publishers"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

// App is the feed mailer runtime: one pipeline per configured source driven by the scheduler.
// It owns the identifier backend and publisher connections and releases them when Run returns.
type App struct {
	cfg      *config.Config
	registry sources.Registry
	manager  *scheduler.Manager
	backend  storage.Backend
	fanout   *publishers.Fanout
	log      logger.Logger
}

// Dependencies lets callers replace the network-facing collaborators.
type Dependencies struct {
	HTTP   *httpclient.RestyClient
	Mailer notify.Mailer
}

// New builds the runtime from config files. Any error here is a startup failure.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	return NewWithDependencies(ctx, cfg, log, Dependencies{})
}

// NewWithDependencies is New with injectable HTTP and mail transports.
func NewWithDependencies(ctx context.Context, cfg *config.Config, log logger.Logger, deps Dependencies) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	registry, err := sources.Load(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources registry: %w", err)
	}
	log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count": len(registry.Sources),
		"names": registry.Names(),
	})

	a := &App{cfg: cfg, registry: registry, log: log}

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.fanout = fanout

	backend, err := storage.NewBackend(cfg.StorageType, cfg.BBoltPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.backend = backend
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type": cfg.StorageType,
		"path": cfg.BBoltPath,
	})

	httpClient := deps.HTTP
	if httpClient == nil {
		httpClient = httpclient.NewRestyClient(feeds.DefaultTimeout)
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = notify.NewSMTPMailer(registry.Email)
	}

	transformer := content.NewTransformer(log)
	feedClient := feeds.NewClient(httpClient, log)
	resolver := media.NewResolver(httpClient, log)
	notifyOpts := []notify.Option{}
	if fanout.Size() > 0 {
		notifyOpts = append(notifyOpts, notify.WithEventPublisher(fanout))
	}
	notifier := notify.New(transformer, mailer, registry.Email, log, notifyOpts...)

	schedules := make([]scheduler.Schedule, 0, len(registry.Sources))
	for _, src := range registry.Sources {
		artifacts, err := storage.NewArtifactStore(src, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		p, err := pipeline.New(src, pipeline.Deps{
			Fetcher:   feedClient,
			IDs:       storage.LoadIdentifierCache(src, backend, log),
			Artifacts: artifacts,
			Preparer:  transformer,
			Media:     resolver,
			Notifier:  notifier,
		}, log)
		if err != nil {
			a.close()
			return nil, err
		}
		schedules = append(schedules, scheduler.Schedule{Runner: p, Interval: src.Interval})
	}

	manager, err := scheduler.NewManager(schedules, scheduler.Options{
		Workers:         cfg.WorkerCount,
		Tick:            cfg.Tick,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	a.manager = manager
	return a, nil
}

func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	if cfg.PublishersFile == "" {
		return publishers.NewFanout(nil), nil
	}
	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := publisherReg.Enabled()
	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// Jobs exposes the scheduler's job records.
func (a *App) Jobs() []scheduler.JobStatus {
	if a == nil || a.manager == nil {
		return nil
	}
	return a.manager.Jobs()
}

// Run processes every source once when run_once is set, otherwise loops until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.manager == nil {
		return fmt.Errorf("app is not initialized")
	}
	defer a.close()

	a.log.InfoObj("feed mailer starting", "app_state", map[string]any{
		"sources":    len(a.registry.Sources),
		"publishers": a.fanout.Size(),
		"run_once":   a.cfg.RunOnce,
		"workers":    a.cfg.WorkerCount,
	})

	if a.cfg.RunOnce {
		return a.manager.RunOnce(ctx)
	}
	return a.manager.Run(ctx)
}

// close releases the backend and publisher connections, logging any errors encountered.
func (a *App) close() {
	var errs []error
	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.ErrorObj("shutdown cleanup failed", "error", err.Error())
	}
}
