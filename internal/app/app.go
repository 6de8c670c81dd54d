// Package app wires configuration, storage and services into the runs the
// command line tools execute.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"content-autoposter/internal/ai"
	"content-autoposter/internal/audit"
	"content-autoposter/internal/auth"
	"content-autoposter/internal/config"
	"content-autoposter/internal/crawler"
	"content-autoposter/internal/lock"
	"content-autoposter/internal/logger"
	"content-autoposter/internal/platform"
	"content-autoposter/internal/queue"
	"content-autoposter/internal/telemetry"
	"content-autoposter/services"
	"content-autoposter/utils"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFatal      = 1
	ExitFailures   = 2
	ExitNothingDue = 3
)

// App holds the long-lived clients shared by publish and generate runs.
type App struct {
	Cfg      *config.Config
	Metrics  *telemetry.Metrics
	Redis    *redis.Client
	Mongo    *mongo.Client
	Notifier *services.Notifier

	shutdownTracer func()
}

// New initialises logging, telemetry and the optional Redis and MongoDB clients.
func New(cfg *config.Config) (*App, error) {
	logger.InitLogger(cfg)

	a := &App{Cfg: cfg}

	shutdown, err := telemetry.InitTracer(cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdown = func() {}
	}
	a.shutdownTracer = shutdown

	if a.Metrics, err = telemetry.InitMetrics(); err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	if a.Redis, err = config.NewRedisClient(cfg); err != nil {
		a.Close()
		return nil, utils.ConfigError("connect redis", err)
	}

	if a.Mongo, err = config.ConnectAuditMongo(cfg); err != nil {
		logger.Warn("Audit mirror disabled", "error", err)
		a.Mongo = nil
	}

	a.Notifier = services.NewNotifier(cfg, services.NewSMTPEmailSender(cfg))
	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Mongo.Disconnect(ctx)
	}
	if a.shutdownTracer != nil {
		a.shutdownTracer()
	}
}

// Publish runs one publishing batch and returns the process exit code.
func (a *App) Publish(ctx context.Context) (int, error) {
	cfg := a.Cfg
	if err := cfg.ValidatePublish(); err != nil {
		return ExitFatal, utils.ConfigError("validate publish config", err)
	}

	release, held, err := a.acquire(ctx, "publish")
	if err != nil {
		return ExitFatal, err
	}
	if held {
		return ExitNothingDue, nil
	}
	defer release()

	client := &http.Client{Timeout: cfg.RequestTimeout}
	pf, err := platform.New(cfg, client)
	if err != nil {
		return ExitFatal, err
	}

	publisher := services.NewPublisher(
		queue.NewStore(cfg.PendingPostsFile),
		a.AuditSink(),
		pf,
		a.Credentials(client),
		services.PublisherOptions{
			Delay:            cfg.PublishDelay,
			VerifyConnection: cfg.PublishVerifyConnection,
			Metrics:          a.Metrics,
		},
	)

	report, err := publisher.PublishDue(ctx, time.Now())
	if err != nil {
		a.notifyFailure(ctx, "publish", err)
		return ExitFatal, err
	}

	if err := a.Notifier.SendReport(ctx, report); err != nil {
		logger.Error("Failed to send report email", "error", err)
	}

	switch {
	case report.Due == 0:
		return ExitNothingDue, nil
	case report.Failed > 0 || report.Aborted:
		return ExitFailures, nil
	default:
		return ExitOK, nil
	}
}

// Generate runs one generation batch and returns the process exit code.
func (a *App) Generate(ctx context.Context) (int, error) {
	cfg := a.Cfg
	if err := cfg.ValidateGenerate(); err != nil {
		return ExitFatal, utils.ConfigError("validate generate config", err)
	}

	release, held, err := a.acquire(ctx, "generate")
	if err != nil {
		return ExitFatal, err
	}
	if held {
		return ExitNothingDue, nil
	}
	defer release()

	gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTier, a.Metrics)
	if err != nil {
		return ExitFatal, utils.ConfigError("create gemini client", err)
	}
	defer gemini.Close()

	opts := services.GeneratorOptions{
		URLsFile:          cfg.URLsFile,
		ProcessedURLsFile: cfg.ProcessedURLsFile,
		URLsPerRun:        cfg.URLsPerRun,
		FirstPostDelay:    cfg.FirstPostDelay,
		PostInterval:      cfg.PostInterval,
		Model:             cfg.GeminiModel,
		Metrics:           a.Metrics,
	}
	if cfg.FetchPageContext {
		opts.Fetcher = crawler.NewFetcher(cfg.RequestTimeout)
	}

	report, err := services.NewGenerator(queue.NewStore(cfg.PendingPostsFile), gemini, opts).Run(ctx, time.Now())
	if err != nil {
		a.notifyFailure(ctx, "generate", err)
		return ExitFatal, err
	}

	switch {
	case report.Selected == 0:
		return ExitNothingDue, nil
	case len(report.Failed) > 0:
		return ExitFailures, nil
	default:
		return ExitOK, nil
	}
}

// AuditSink is the CSV log, mirrored to MongoDB when configured.
func (a *App) AuditSink() audit.Sink {
	log := audit.NewLog(a.Cfg.PostedLogsFile)
	if a.Mongo == nil {
		return log
	}
	return &audit.MultiSink{Primary: log, Mirrors: []audit.Sink{audit.NewMongoSink(a.Mongo, a.Cfg.AuditMongoDB)}}
}

// Credentials returns the credential source for the configured platform.
func (a *App) Credentials(client *http.Client) auth.CredentialSource {
	cfg := a.Cfg
	if cfg.Platform == config.PlatformTumblrOAuth1 {
		return auth.StaticCredential{Signer: &auth.Signer{
			ConsumerKey:    cfg.ConsumerKey,
			ConsumerSecret: cfg.ConsumerSecret,
			Token:          cfg.OAuthToken,
			TokenSecret:    cfg.OAuthTokenSecret,
		}}
	}
	return NewResolver(cfg, client)
}

// NewResolver builds the OAuth 2.0 credential resolver over the token file.
func NewResolver(cfg *config.Config, client *http.Client) *auth.Resolver {
	return auth.NewResolver(auth.NewTokenStore(cfg.TokenFile), auth.ResolverConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      cfg.AuthorizeURL,
		TokenURL:     cfg.TokenURL,
		RedirectURI:  cfg.RedirectURI,
		AuthCode:     cfg.AuthCode,
		Margin:       cfg.TokenRefreshMargin,
		HTTPClient:   client,
	})
}

// acquire takes the run lock. held reports that another runner owns it.
func (a *App) acquire(ctx context.Context, job string) (release func(), held bool, err error) {
	l, err := lock.Acquire(ctx, a.Redis, job, a.Cfg.LockTTL)
	if errors.Is(err, lock.ErrHeld) {
		logger.Warn("Another run holds the lock, nothing to do", "job", job)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.Release(ctx); err != nil {
			logger.Warn("Failed to release lock", "job", job, "error", err)
		}
	}, false, nil
}

func (a *App) notifyFailure(ctx context.Context, stage string, cause error) {
	if err := a.Notifier.SendFailure(ctx, stage, cause); err != nil {
		logger.Error("Failed to send error email", "stage", stage, "error", err)
	}
}
