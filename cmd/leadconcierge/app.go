package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/ai"
	"github.com/jkindrix/leadconcierge/internal/audit"
	"github.com/jkindrix/leadconcierge/internal/blob"
	"github.com/jkindrix/leadconcierge/internal/config"
	"github.com/jkindrix/leadconcierge/internal/console"
	"github.com/jkindrix/leadconcierge/internal/conversation"
	"github.com/jkindrix/leadconcierge/internal/database"
	"github.com/jkindrix/leadconcierge/internal/dedupe"
	"github.com/jkindrix/leadconcierge/internal/escalation"
	"github.com/jkindrix/leadconcierge/internal/handler"
	"github.com/jkindrix/leadconcierge/internal/intent"
	"github.com/jkindrix/leadconcierge/internal/knowledge"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/messaging"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/negotiation"
	"github.com/jkindrix/leadconcierge/internal/orchestrator"
	"github.com/jkindrix/leadconcierge/internal/qualification"
	"github.com/jkindrix/leadconcierge/internal/recontact"
	"github.com/jkindrix/leadconcierge/internal/report"
)

// closer releases a backing connection.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// app holds the wired components. Commands build only the parts they need.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	blobs     blob.Store
	storage   handler.HealthChecker
	knowledge *knowledge.Store
	store     *conversation.Store
	reporter  *report.Reporter

	closers []closer
}

// newApp loads configuration and opens storage.
func newApp(ctx context.Context, m *metrics.Metrics) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(&logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		logger:  log.Zap(),
		metrics: m,
		audit:   audit.NewLogger(log.Zap()),
	}

	raw, err := a.openBlobs(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.blobs = blob.Instrument(raw, m)
	if a.storage == nil {
		a.storage = handler.HealthCheckFunc(func(ctx context.Context) error {
			_, err := a.blobs.Get(ctx, report.ExportKey)
			if errors.Is(err, blob.ErrNotFound) {
				return nil
			}
			return err
		})
	}

	a.knowledge = knowledge.NewStore(a.blobs, knowledge.Options{
		LocalDir:      cfg.Knowledge.LocalDir,
		PublicBaseURL: cfg.Blob.PublicBaseURL,
	}, a.logger.Named("knowledge"))
	a.store = conversation.NewStore(a.blobs, cfg.Policy.HistoryDepth, a.logger.Named("conversation"))
	a.reporter = report.New(a.store, a.blobs, cfg.Location(), a.logger.Named("report"))
	return a, nil
}

// openBlobs connects the configured persistence backend.
func (a *app) openBlobs(ctx context.Context) (blob.Store, error) {
	switch a.cfg.Blob.Backend {
	case "postgres":
		db, err := database.New(ctx, &a.cfg.Database, a.logger)
		if err != nil {
			return nil, err
		}
		a.addCloser("database", func(context.Context) error {
			db.Close()
			return nil
		})
		if err := database.Migrate(ctx, db.Pool, a.logger); err != nil {
			return nil, err
		}
		a.storage = db
		return blob.NewPostgresStore(db.Pool), nil

	case "mongo":
		store, disconnect, err := blob.ConnectMongo(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database, a.cfg.Blob.Bucket)
		if err != nil {
			return nil, err
		}
		a.addCloser("mongo", disconnect)
		return store, nil

	case "fs", "":
		return blob.NewFSStore(a.cfg.Blob.Bucket)

	default:
		return nil, fmt.Errorf("unknown blob backend %q", a.cfg.Blob.Backend)
	}
}

func (a *app) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// close releases connections in reverse order of opening.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

// load reads the knowledge base and the conversation snapshot.
func (a *app) load(ctx context.Context) error {
	if err := a.knowledge.Load(ctx); err != nil {
		return err
	}
	if err := a.store.LoadAll(ctx); err != nil {
		return err
	}
	a.metrics.SetConversations(a.store.Len())
	return nil
}

// models returns the chat model for replies and the transcriber. Audio is
// always transcribed by OpenAI.
func (a *app) models() (ai.ChatModel, ai.Transcriber) {
	oa := ai.NewOpenAIClient(&a.cfg.OpenAI, a.metrics, a.logger.Named("openai"))
	if a.cfg.LLM.Provider == "anthropic" {
		return ai.NewAnthropicClient(&a.cfg.Anthropic, a.metrics, a.logger.Named("anthropic")), oa
	}
	return oa, oa
}

// dedupeStore returns the Redis store when configured, else an in-memory
// one scoped to this process.
func (a *app) dedupeStore() (dedupe.Store, handler.HealthChecker, error) {
	if a.cfg.Redis.URL == "" {
		a.logger.Info("redis not configured, using in-memory dedupe")
		return dedupe.NewMemoryStore(a.cfg.Redis.DedupeTTL, nil), nil, nil
	}
	store, client, err := dedupe.NewRedisStore(a.cfg.Redis.URL, a.cfg.Redis.DedupeTTL)
	if err != nil {
		return nil, nil, err
	}
	a.addCloser("redis", func(context.Context) error { return client.Close() })
	return store, handler.HealthCheckFunc(func(ctx context.Context) error {
		return dedupe.Ping(ctx, client)
	}), nil
}

// services are the components behind the webhook.
type services struct {
	messaging    *messaging.Client
	outbox       *orchestrator.Outbox
	orchestrator *orchestrator.Orchestrator
	recontact    *recontact.Scheduler
	dedupeHealth handler.HealthChecker
}

// wire builds the conversation pipeline on top of the opened storage.
func (a *app) wire() (*services, error) {
	cfg := a.cfg
	classifier, err := a.classifier()
	if err != nil {
		return nil, err
	}
	dd, dedupeHealth, err := a.dedupeStore()
	if err != nil {
		return nil, err
	}

	twilio := messaging.New(&cfg.Twilio, a.metrics, a.logger.Named("twilio"))
	outbox := orchestrator.NewOutbox(twilio, a.store, cfg.Managers, cfg.Policy, nil, a.logger.Named("outbox"))
	model, transcriber := a.models()
	responder := ai.NewResponder(model, cfg.LLM, cfg.Policy, a.logger.Named("responder"))

	loop := escalation.New(cfg.Escalation, escalation.Deps{
		Store:     a.store,
		FAQ:       a.knowledge,
		Rephraser: responder,
		Outbox:    outbox,
		Metrics:   a.metrics,
		Logger:    a.logger.Named("escalation"),
	})
	cons := console.New(cfg.Policy.MinAnswerLength, console.Deps{
		Store:     a.store,
		Reporter:  a.reporter,
		Knowledge: a.knowledge,
		Resolver:  loop,
		Audit:     a.audit,
		Logger:    a.logger.Named("console"),
		Location:  cfg.Location(),
	})
	orch := orchestrator.New(orchestrator.Deps{
		Config:      cfg,
		Store:       a.store,
		Knowledge:   a.knowledge,
		Classifier:  classifier,
		Qualifier:   qualification.New(cfg.Policy.MaxNameAsks),
		Negotiator:  negotiation.New(cfg.Policy),
		Responder:   responder,
		Escalation:  loop,
		Console:     cons,
		Outbox:      outbox,
		Media:       twilio,
		Transcriber: transcriber,
		Dedupe:      dd,
		Metrics:     a.metrics,
		Logger:      a.logger.Named("orchestrator"),
	})
	scheduler := recontact.New(cfg.Recontact, recontact.Deps{
		Store:   a.store,
		Sender:  outbox,
		Metrics: a.metrics,
		Logger:  a.logger.Named("recontact"),
		Lock:    orch.Locker(),
	})

	return &services{
		messaging:    twilio,
		outbox:       outbox,
		orchestrator: orch,
		recontact:    scheduler,
		dedupeHealth: dedupeHealth,
	}, nil
}

// classifier builds the intent rules, extended by the optional YAML file.
func (a *app) classifier() (*intent.Classifier, error) {
	rules, err := intent.LoadRules(a.cfg.Intent.RulesFile)
	if err != nil {
		return nil, err
	}
	return intent.New(rules, a.knowledge)
}
