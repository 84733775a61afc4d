package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/eventscout/config"
	"example.com/eventscout/internal/cache"
	"example.com/eventscout/internal/extraction"
	"example.com/eventscout/internal/mail"
	"example.com/eventscout/internal/messaging"
	"example.com/eventscout/internal/metrics"
	"example.com/eventscout/internal/models"
	"example.com/eventscout/internal/pipeline"
	"example.com/eventscout/internal/repositories"
	"example.com/eventscout/internal/search"
	"example.com/eventscout/internal/tracing"
)

// components holds everything a command can wire together
type components struct {
	repo     *repositories.EventRepository
	cache    *cache.RedisCache
	elastic  *search.ElasticClient
	notifier messaging.Notifier
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	pipeline *pipeline.Pipeline
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying write DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, readOnlyDB, nil
}

// initComponents builds the shared collaborators for any command
func initComponents(cfg config.Config) (*components, error) {
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return nil, err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		elasticClient = nil
	}

	notifier, err := messaging.NewServiceBusNotifier(cfg.ServiceBus)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus notifier, continuing without notifications")
		notifier = nil
	}

	collector := metrics.NewMetrics()
	repo := repositories.NewEventRepository(db, readOnlyDB)

	mailClient := mail.NewClient(cfg.Mail)
	extractor := extraction.NewClient(cfg.Extraction)

	var locker pipeline.Locker
	if redisCache.Enabled() {
		locker = redisCache
	} else {
		log.Warn().Msg("Run lock disabled; the scheduler must guarantee non-overlapping ingestion runs")
	}

	var indexer pipeline.Indexer
	if elasticClient != nil {
		indexer = elasticClient
	}

	lockTTL := cfg.Worker.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}

	ingest := pipeline.New(
		mailClient,
		extractor,
		repo,
		locker,
		indexer,
		notifier,
		collector,
		tracer,
		pipeline.Options{
			SearchQuery: cfg.Mail.SearchQuery(),
			BatchSize:   cfg.Mail.BatchSize,
			LockKey:     cache.RunLockKey(cfg.DB.Name),
			LockTTL:     lockTTL,
		},
	)

	return &components{
		repo:     repo,
		cache:    redisCache,
		elastic:  elasticClient,
		notifier: notifier,
		metrics:  collector,
		tracer:   tracer,
		pipeline: ingest,
	}, nil
}

func (c *components) close() {
	if c.notifier != nil {
		if err := c.notifier.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Service Bus notifier")
		}
	}
	if c.cache.Enabled() {
		if err := c.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis connection")
		}
	}
}
