package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/leadpilot/internal/autopilot"
	"github.com/leadpilot/internal/channels"
	"github.com/leadpilot/internal/compliance"
	"github.com/leadpilot/internal/config"
	"github.com/leadpilot/internal/database"
	"github.com/leadpilot/internal/eventbus"
	"github.com/leadpilot/internal/inbound"
	"github.com/leadpilot/internal/intent"
	"github.com/leadpilot/internal/jobqueue"
	"github.com/leadpilot/internal/knowledge"
	"github.com/leadpilot/internal/learning"
	"github.com/leadpilot/internal/llm"
	"github.com/leadpilot/internal/logging"
	"github.com/leadpilot/internal/notify"
	"github.com/leadpilot/internal/orchestrator"
	"github.com/leadpilot/internal/reactivation"
	"github.com/leadpilot/internal/signals"
	"github.com/leadpilot/internal/storage"
)

const busBuffer = 256

// App holds the wired components shared by the commands
type App struct {
	Config       *config.Config
	DB           *sql.DB
	Store        storage.Gateway
	Bus          *eventbus.Bus
	Sender       channels.Sender
	Notifier     notify.Notifier
	Router       *inbound.Router
	Engine       *autopilot.Engine
	Pool         *autopilot.Pool
	Orchestrator *orchestrator.Orchestrator
	Agent        *reactivation.Agent
	Learning     *learning.Service

	redis  *redis.Client
	kafka  *eventbus.KafkaForwarder
	pgPool *pgxpool.Pool
}

// loadConfig reads and validates the configuration named by the global flag
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)
	return cfg, nil
}

// newApp opens the database and wires every collaborator. Optional integrations
// (Redis, Kafka, Slack, embeddings, signal collectors) are skipped when unconfigured.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.For("app")

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Store:  storage.NewPostgresStore(db),
		Bus:    eventbus.New(busBuffer),
	}

	if cfg.Kafka.Enabled {
		app.kafka = eventbus.NewKafkaForwarder(eventbus.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		app.Bus.Subscribe("kafka", app.kafka.Handle)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("forwarding events to kafka")
	}

	notifiers := notify.Fanout{notify.LogNotifier{}}
	if cfg.Slack.BotToken != "" {
		slack, err := notify.NewSlackNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, cfg.Slack.APIBase, nil)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create slack notifier: %w", err)
		}
		notifiers = append(notifiers, slack)
	}
	app.Notifier = notifiers

	app.Sender = channels.NewHTTPSender(channels.Options{
		Endpoints:     cfg.Channels.Endpoints,
		Token:         cfg.Channels.Token,
		RatePerSecond: cfg.Channels.RatePerSecond,
		Burst:         cfg.Channels.Burst,
	})

	var generator llm.Generator
	gen, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.LLM.Provider).Msg("llm unavailable, generation falls back to human review")
	} else {
		generator = llm.NewResilientGeneratorWithDefaults(gen, cfg.LLM.Timeout)
	}

	var (
		searcher knowledge.Searcher
		memory   reactivation.Memory
	)
	if embedder, err := llm.NewEmbedder(cfg.LLM); err != nil {
		logger.Warn().Err(err).Msg("embeddings unavailable, knowledge search and memory retrieval disabled")
	} else {
		index := knowledge.NewIndex(embedder)
		searcher = index
		memory = index
	}

	locker := autopilot.LeadLocker(autopilot.NewLocalLocks())
	if cfg.Redis.Enabled {
		client, err := autopilot.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.redis = client
		locker = autopilot.ChainLocks{locker, autopilot.NewRedisLocks(client, 2*cfg.Autopilot.PipelineTimeout)}
	}

	app.Engine = autopilot.NewEngine(autopilot.Deps{
		Store:     app.Store,
		Detector:  intent.New(nil),
		Generator: generator,
		Guard:     llm.NewPromptGuard(),
		Knowledge: searcher,
		Sender:    app.Sender,
		Notifier:  app.Notifier,
		Bus:       app.Bus,
		Locker:    locker,
	}, autopilot.Options{
		CallTimeout:     cfg.Autopilot.CallTimeout,
		PipelineTimeout: cfg.Autopilot.PipelineTimeout,
		HistoryLimit:    cfg.Autopilot.HistoryLimit,
		FollowUpDelay:   time.Duration(cfg.Autopilot.FollowUpDelayDays) * 24 * time.Hour,
		MaxTokens:       cfg.LLM.MaxTokens,
	})
	app.Pool = autopilot.NewPool(app.Engine, cfg.Autopilot.Workers, 0)

	app.Router = inbound.NewRouter(app.Store, cfg.Webhooks.Secrets, cfg.Webhooks.VerifyToken)

	client := &http.Client{Timeout: cfg.Signals.Timeout}
	var collectors []signals.Collector
	if cfg.Signals.NewsURL != "" {
		collectors = append(collectors, signals.NewNewsCollector(cfg.Signals.NewsURL, cfg.Signals.NewsAPIKey, client))
	}
	if cfg.Signals.BeaconURL != "" {
		collectors = append(collectors, signals.NewBeaconCollector(cfg.Signals.BeaconURL, cfg.Signals.NewsAPIKey, client))
	}
	if cfg.Signals.LinkedInURL != "" {
		collectors = append(collectors, signals.NewLinkedInCollector(cfg.Signals.LinkedInURL, cfg.Signals.NewsAPIKey, client))
	}

	app.Agent = reactivation.NewAgent(reactivation.Deps{
		Store:       app.Store,
		Memory:      memory,
		Signals:     signals.NewDetector(cfg.Signals.Timeout, collectors...),
		Generator:   generator,
		Checker:     compliance.New(nil),
		Sender:      app.Sender,
		Notifier:    app.Notifier,
		Bus:         app.Bus,
		Checkpoints: app.Store,
	}, reactivation.Options{
		BatchQuota:         cfg.Reactivation.BatchQuota,
		DealValueLimit:     cfg.Reactivation.DealValueLimit,
		AutoSendConfidence: cfg.Reactivation.AutoSendConfidence,
		MemoryTopK:         cfg.Reactivation.MemoryTopK,
		MemoryThreshold:    cfg.Reactivation.MemoryThreshold,
		MaxTokens:          cfg.LLM.MaxTokens,
	})

	app.Orchestrator = orchestrator.New(orchestrator.Deps{
		Store:       app.Store,
		Sender:      app.Sender,
		Notifier:    app.Notifier,
		Bus:         app.Bus,
		Reactivator: app.Agent,
	}, orchestrator.Options{
		CallTimeout:          cfg.Autopilot.CallTimeout,
		GhostAfterDays:       cfg.Autopilot.GhostAfterDays,
		GhostHardDays:        cfg.Autopilot.GhostHardDays,
		GhostArchiveDays:     cfg.Autopilot.GhostArchiveDays,
		DormantAfterDays:     cfg.Reactivation.DormantAfterDays,
		ReactivationMaxLeads: cfg.Reactivation.BatchQuota,
	})

	app.Learning = learning.NewService(app.Store)
	app.Learning.Subscribe(app.Bus)

	return app, nil
}

// StartJobs starts the river queue, or an in-process hourly tick when durable
// jobs are disabled. The returned stop function blocks until workers finish.
func (a *App) StartJobs(ctx context.Context) (func(context.Context) error, error) {
	logger := logging.For("jobs")
	if !a.Config.Jobs.Enabled {
		tickCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.tickLoop(tickCtx)
		}()
		logger.Info().Msg("durable jobs disabled, running the hourly tick in process")
		return func(context.Context) error {
			cancel()
			<-done
			return nil
		}, nil
	}

	pool, err := database.NewPool(ctx, a.Config.Database.URL)
	if err != nil {
		return nil, err
	}
	a.pgPool = pool
	if err := jobqueue.Migrate(ctx, pool); err != nil {
		return nil, err
	}
	queue, err := jobqueue.NewJobQueue(pool, jobqueue.Deps{
		Scheduler:  a.Orchestrator,
		Aggregator: a.Learning,
		Tenants:    a.Store,
		Agent:      a.Agent,
	}, jobqueue.GetQueueConfig().WithMaxWorkers(a.Config.Jobs.MaxWorkers))
	if err != nil {
		return nil, err
	}
	if err := queue.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start job queue: %w", err)
	}
	logger.Info().Int("max_workers", a.Config.Jobs.MaxWorkers).Msg("job queue started")
	return queue.Stop, nil
}

func (a *App) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Orchestrator.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("orchestrator tick failed")
			}
		}
	}
}

// Close drains the pipeline and the bus before releasing connections
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka writer close failed")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
