package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/amishk599/leadscout/internal/ai"
	"github.com/amishk599/leadscout/internal/alert"
	"github.com/amishk599/leadscout/internal/analyzer"
	"github.com/amishk599/leadscout/internal/collector"
	"github.com/amishk599/leadscout/internal/config"
	"github.com/amishk599/leadscout/internal/mailer"
	"github.com/amishk599/leadscout/internal/metrics"
	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/notifier"
	"github.com/amishk599/leadscout/internal/objstore"
	"github.com/amishk599/leadscout/internal/orchestrator"
	"github.com/amishk599/leadscout/internal/probe"
	"github.com/amishk599/leadscout/internal/profile"
	"github.com/amishk599/leadscout/internal/queue"
	"github.com/amishk599/leadscout/internal/ratelimit"
	"github.com/amishk599/leadscout/internal/retry"
	"github.com/amishk599/leadscout/internal/scoring"
	"github.com/amishk599/leadscout/internal/source"
	"github.com/amishk599/leadscout/internal/store"
)

const (
	collectStream = "collect-tasks"
	rawLeadStream = "raw-leads"
	notifyStream  = "notify-tasks"
)

// channel is a queue that can both publish and consume.
type channel[T any] interface {
	queue.Publisher[T]
	queue.Consumer[T]
}

// drainer is implemented by queues that can be emptied synchronously.
type drainer[T any] interface {
	Drain(ctx context.Context, h queue.Handler[T]) error
}

// app holds every wired dependency for one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Pipeline
	store    *store.Store
	http     *http.Client

	s3Client *s3.Client
	redis    redis.UniversalClient

	collectQ channel[model.CollectTask]
	rawQ     channel[model.RawLeadMessage]
	notifyQ  channel[model.NotifyTask]
	alerter  queue.Alerter

	source model.JobSource
	prober model.Prober

	collector    *collector.Collector
	analyzer     *analyzer.Analyzer
	notifier     *notifier.Notifier
	orchestrator *orchestrator.Orchestrator
}

// newApp wires the whole pipeline from cfg. Configuration problems surface as
// *model.ConfigError before any work starts.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = st

	if err := a.setupQueues(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.source = a.buildRouter()
	a.prober = a.buildProber()
	generator := a.buildGenerator()
	profiles, err := a.buildProfiles(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	policy, err := scoring.New(cfg.Scoring.Policy, cfg.Scoring.AIWeight)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.collector = collector.New(st, st, a.source, a.prober, a.rawQ, logger,
		collector.WithProbeConcurrency(cfg.Probe.Concurrency),
		collector.WithMetrics(a.metrics),
	)
	a.analyzer = analyzer.New(st, st, profiles, generator, policy, a.metrics, logger)
	a.notifier = notifier.New(st, st, a.buildMailer(), cfg.Email.Sender, logger,
		notifier.WithDefaultLanguage(cfg.Report.DefaultLanguage),
		notifier.WithMetrics(a.metrics),
	)
	a.orchestrator = orchestrator.New(st, a.collectQ, a.notifyQ, logger,
		orchestrator.WithRetention(st, cfg.Retention.MaxAge),
		orchestrator.WithMetrics(a.metrics),
	)
	return a, nil
}

// Close releases the store and queue connections.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DSN)
	default:
		return store.OpenSQLite(cfg.Path)
	}
}

func (a *app) objectStore(ctx context.Context) (*s3.Client, error) {
	if a.s3Client != nil {
		return a.s3Client, nil
	}
	c, err := objstore.NewClient(ctx, objstore.Config{
		Region:    a.cfg.S3.Region,
		Endpoint:  a.cfg.S3.Endpoint,
		AccessKey: a.cfg.S3.AccessKey,
		SecretKey: a.cfg.S3.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	a.s3Client = c
	return c, nil
}

func (a *app) setupQueues(ctx context.Context) error {
	a.alerter = buildAlerter(a.cfg.Alerts, a.http, a.metrics, a.logger)

	opts := queue.Options{
		MaxAttempts:   a.cfg.Queue.MaxAttempts,
		RetryDelay:    a.cfg.Queue.RetryDelay,
		MaxRetryDelay: a.cfg.Queue.MaxRetryDelay,
		Alerter:       a.alerter,
		Logger:        a.logger,
	}
	consumer := a.cfg.Queue.Consumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = host + "-" + strconv.Itoa(os.Getpid())
	}

	switch a.cfg.Queue.Driver {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Queue.RedisAddr,
			Password: a.cfg.Queue.RedisPass,
			DB:       a.cfg.Queue.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", a.cfg.Queue.RedisAddr, err)
		}
		ropts := queue.RedisOptions{Options: opts, Consumer: consumer}
		a.collectQ = queue.NewRedisStream[model.CollectTask](a.redis, collectStream, ropts)
		a.rawQ = queue.NewRedisStream[model.RawLeadMessage](a.redis, rawLeadStream, ropts)
		a.notifyQ = queue.NewRedisStream[model.NotifyTask](a.redis, notifyStream, ropts)

	case "s3":
		client, err := a.objectStore(ctx)
		if err != nil {
			return err
		}
		bucket, poll, lease := a.cfg.Queue.Bucket, a.cfg.Queue.PollInterval, a.cfg.Queue.LeaseTTL
		a.collectQ = queue.NewBucket(client, bucket, queue.BucketOptions[model.CollectTask]{
			Options: opts, Prefix: collectStream, PollInterval: poll, Consumer: consumer, LeaseTTL: lease,
		})
		a.rawQ = queue.NewBucket(client, bucket, queue.BucketOptions[model.RawLeadMessage]{
			Options: opts, Prefix: rawLeadStream, PollInterval: poll, Consumer: consumer, LeaseTTL: lease,
			Partition: func(m model.RawLeadMessage) string { return m.UserEmail },
		})
		a.notifyQ = queue.NewBucket(client, bucket, queue.BucketOptions[model.NotifyTask]{
			Options: opts, Prefix: notifyStream, PollInterval: poll, Consumer: consumer, LeaseTTL: lease,
		})

	default:
		a.collectQ = queue.NewMemory[model.CollectTask](collectStream, opts)
		a.rawQ = queue.NewMemory[model.RawLeadMessage](rawLeadStream, opts)
		a.notifyQ = queue.NewMemory[model.NotifyTask](notifyStream, opts)
	}
	a.logger.Info("queues configured", "driver", a.cfg.Queue.Driver)
	return nil
}

// buildAlerter always logs dead letters and also posts them to Slack when configured.
func buildAlerter(cfg config.AlertsConfig, client *http.Client, m *metrics.Pipeline, logger *slog.Logger) queue.Alerter {
	alerters := []queue.Alerter{alert.NewLogAlerter(logger)}
	if cfg.Type == "slack" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.WebhookURL, client, logger))
	}
	return alert.NewMulti(m, alerters...)
}

// buildRouter registers each enabled board under its platform, wrapped with
// per-platform rate limiting and bounded retries.
func (a *app) buildRouter() *source.Router {
	router := source.NewRouter(a.logger)
	limiters := make(map[string]*ratelimit.Limiter)
	policy := retry.Policy{MaxRetries: a.cfg.Retry.MaxRetries, BaseDelay: a.cfg.Retry.BaseDelay}

	for _, sc := range a.cfg.Sources {
		if !sc.Enabled {
			continue
		}
		var fetcher model.JobFetcher
		switch sc.Type {
		case "greenhouse":
			fetcher = source.NewGreenhouseAdapter(sc.BoardToken, sc.Name, a.http)
		case "lever":
			fetcher = source.NewLeverAdapter(sc.BoardToken, sc.Name, a.http)
		case "ashby":
			fetcher = source.NewAshbyAdapter(sc.BoardToken, sc.Name, a.http)
		case "gem":
			fetcher = source.NewGemAdapter(sc.BoardToken, sc.Name, a.http)
		case "feed":
			fetcher = source.NewFeedAdapter(sc.URL, sc.Name, a.http)
		default:
			a.logger.Warn("unsupported source type, skipping", "name", sc.Name, "type", sc.Type)
			continue
		}

		platform := model.NormalizePlatform(sc.Platform)
		limiter, ok := limiters[platform]
		if !ok {
			limiter = ratelimit.New(a.cfg.RateLimit.MinDelayFor(platform))
			limiters[platform] = limiter
		}
		fetcher = ratelimit.NewFetcher(fetcher, limiter, platform)
		fetcher = retry.NewFetcher(fetcher, policy, sc.Name, a.logger)

		router.Register(platform, sc.Name, fetcher)
		a.logger.Info("registered source", "platform", platform, "name", sc.Name, "type", sc.Type)
	}
	return router
}

func (a *app) buildProber() *probe.HTTPProber {
	opts := []probe.Option{probe.WithTimeout(a.cfg.Probe.Timeout)}
	if a.cfg.Probe.PerHostDelay > 0 {
		opts = append(opts, probe.WithHostLimiter(ratelimit.New(a.cfg.Probe.PerHostDelay)))
	}
	return probe.New(opts...)
}

func (a *app) buildGenerator() model.Generator {
	if !a.cfg.AI.Enabled {
		a.logger.Info("AI enrichment disabled, scoring by keyword overlap only")
		return ai.NewNopGenerator()
	}
	provider := ai.NewOpenAIProvider(a.cfg.AI.BaseURL, a.cfg.AI.APIKey, a.cfg.AI.Model, a.cfg.AI.MaxTokens,
		&http.Client{Timeout: a.cfg.AI.Timeout + 5*time.Second})
	enricher := ai.NewEnricher(provider, ai.LeadAnalysisTemplate, a.logger)
	a.logger.Info("AI enrichment enabled", "model", a.cfg.AI.Model)
	return ai.NewGuardedGenerator(enricher, ai.GuardConfig{
		Timeout:          a.cfg.AI.Timeout,
		FailureThreshold: a.cfg.AI.FailureThreshold,
		Window:           a.cfg.AI.FailureWindow,
		OpenDelay:        a.cfg.AI.OpenDelay,
	}, a.logger)
}

func (a *app) buildProfiles(ctx context.Context) (model.ProfileSource, error) {
	if a.cfg.Profiles.Driver == "s3" {
		client, err := a.objectStore(ctx)
		if err != nil {
			return nil, err
		}
		return profile.NewS3Store(client, a.cfg.Profiles.Bucket, a.cfg.Profiles.Prefix), nil
	}
	return profile.NewDirStore(a.cfg.Profiles.Dir), nil
}

func (a *app) buildMailer() model.Mailer {
	if a.cfg.Email.Driver == "smtp" {
		a.logger.Info("using smtp mailer", "host", a.cfg.Email.Host, "port", a.cfg.Email.Port)
		return mailer.NewSMTP(mailer.SMTPConfig{
			Host:       a.cfg.Email.Host,
			Port:       strconv.Itoa(a.cfg.Email.Port),
			User:       a.cfg.Email.User,
			Password:   a.cfg.Email.Password,
			FromName:   a.cfg.Email.FromName,
			DisableTLS: a.cfg.Email.DisableTLS,
			Timeout:    a.cfg.Email.Timeout,
		})
	}
	return mailer.NewLogMailer(a.logger, debug)
}
