package main

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/yukioka/tsuzuki/pkg/bus"
	"github.com/yukioka/tsuzuki/pkg/config"
	"github.com/yukioka/tsuzuki/pkg/engine"
	"github.com/yukioka/tsuzuki/pkg/evidence"
	"github.com/yukioka/tsuzuki/pkg/logger"
	"github.com/yukioka/tsuzuki/pkg/memory"
	"github.com/yukioka/tsuzuki/pkg/persona"
	"github.com/yukioka/tsuzuki/pkg/providers"
	"github.com/yukioka/tsuzuki/pkg/task"
)

// appRuntime wires the stores, synchronizer, aggregator, and engine
// together. Both serve and chat build one of these.
type appRuntime struct {
	cfg      *config.Config
	bus      *bus.EventBus
	memStore *memory.SQLiteStore
	tskStore *task.SQLiteStore
	syncer   *memory.Synchronizer
	tasks    *task.Manager
	profiles *persona.Holder
	engine   *engine.Engine
	log      *zap.Logger
}

func buildRuntime(cfg *config.Config) (*appRuntime, error) {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	log := logger.Named("runtime")

	memStore, err := memory.NewSQLiteStore(cfg.MemoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	tskStore, err := task.NewSQLiteStore(cfg.TasksDBPath())
	if err != nil {
		_ = memStore.Close()
		return nil, fmt.Errorf("open task store: %w", err)
	}

	eventBus := bus.NewEventBus()
	syncer := memory.NewSynchronizer(memStore, memory.Config{
		ContextTurns:       cfg.Memory.ContextTurns,
		ContextRecords:     cfg.Memory.ContextRecords,
		RetentionTurns:     cfg.Memory.RetentionTurns,
		WorkerPollMS:       cfg.Memory.WorkerPollMS,
		WorkerLeaseSeconds: cfg.Memory.WorkerLeaseSeconds,
		RecordTTLDays:      cfg.Memory.RecordTTLDays,
	}, eventBus)
	syncer.Start()

	profile, err := persona.LoadProfile(cfg.ProfilePath())
	if err != nil {
		log.Warn("profile unreadable, using default", zap.Error(err))
		profile = persona.DefaultProfile()
	}
	profiles := persona.NewHolder(profile)

	sources := []evidence.Source{}
	if web := evidence.NewWebSource(evidence.WebSourceOptions{
		BraveEnabled:         cfg.Evidence.Brave.Enabled,
		BraveAPIKey:          cfg.Evidence.Brave.APIKey,
		BraveMaxResults:      cfg.Evidence.Brave.MaxResults,
		DuckDuckGoEnabled:    cfg.Evidence.DuckDuckGo.Enabled,
		DuckDuckGoMaxResults: cfg.Evidence.DuckDuckGo.MaxResults,
	}); web != nil {
		sources = append(sources, web)
	}
	if cfg.Evidence.Reference.Enabled {
		if ref := evidence.NewReferenceSource(cfg.Evidence.Reference.Endpoint,
			cfg.Evidence.Reference.APIKey, cfg.Evidence.Reference.MaxResults); ref != nil {
			sources = append(sources, ref)
		}
	}
	if local := evidence.NewLocalSource(syncer); local != nil {
		sources = append(sources, local)
	}

	aggregator := evidence.NewAggregator(sources, evidence.AggregatorOptions{
		SourceTimeout: time.Duration(cfg.Evidence.SourceTimeoutMS) * time.Millisecond,
		MaxItems:      cfg.Evidence.MaxItems,
		Cache: evidence.NewCache(cfg.Cache.RedisAddr, cfg.Cache.RedisDB,
			time.Duration(cfg.Cache.TTLSeconds)*time.Second),
	})

	var composer providers.Composer
	if cfg.Composer.APIKey != "" {
		composer = providers.NewOpenAIComposer(cfg.Composer.APIKey, cfg.Composer.APIBase,
			cfg.Composer.Model, time.Duration(cfg.Composer.TimeoutMS)*time.Millisecond)
	} else {
		log.Info("no composer API key, using template drafts")
		composer = providers.NewTemplateComposer()
	}

	tasks := task.NewManager(tskStore)
	eng := engine.New(syncer, tasks, aggregator, composer, profiles, eventBus, engine.Options{
		TriggerPhrases: cfg.Continuity.TriggerPhrases,
		Platforms:      cfg.Agent.Platforms,
	})

	return &appRuntime{
		cfg:      cfg,
		bus:      eventBus,
		memStore: memStore,
		tskStore: tskStore,
		syncer:   syncer,
		tasks:    tasks,
		profiles: profiles,
		engine:   eng,
		log:      log,
	}, nil
}

func (rt *appRuntime) close() {
	rt.syncer.Close()
	rt.bus.Close()
	_ = rt.memStore.Close()
	_ = rt.tskStore.Close()
	logger.Sync()
}

// startMaintenance purges expired records and requeues stuck retries on
// the configured cron schedule.
func (rt *appRuntime) startMaintenance(ctx context.Context) {
	expr := rt.cfg.Maintenance.Cron
	gron := gronx.New()
	if !gron.IsValid(expr) {
		rt.log.Warn("invalid maintenance cron, using default", zap.String("expr", expr))
		expr = "*/15 * * * *"
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				due, err := gron.IsDue(expr, now)
				if err != nil || !due {
					continue
				}
				rt.syncer.RunMaintenance(ctx)
			}
		}
	}()
}
