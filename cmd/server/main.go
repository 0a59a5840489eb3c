package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/ai"
	"github.com/suPer8Hu/quiz-assist/internal/chat"
	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/db"
	"github.com/suPer8Hu/quiz-assist/internal/faq"
	"github.com/suPer8Hu/quiz-assist/internal/httpapi"
	"github.com/suPer8Hu/quiz-assist/internal/httpapi/handlers"
	"github.com/suPer8Hu/quiz-assist/internal/identity"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/metrics"
	"github.com/suPer8Hu/quiz-assist/internal/notify"
	"github.com/suPer8Hu/quiz-assist/internal/quiz"
	"github.com/suPer8Hu/quiz-assist/internal/ratelimit"
	"github.com/suPer8Hu/quiz-assist/internal/store/rabbitmq"
	"github.com/suPer8Hu/quiz-assist/internal/store/redisstore"
	"github.com/suPer8Hu/quiz-assist/internal/ttlcache"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		logger.Logger.WithError(err).Fatal("db migrate failed")
	}
	if created, err := db.EnsureAdmin(context.Background(), gdb, cfg.AdminLogin, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Logger.WithError(err).Fatal("ensure admin failed")
	} else if created {
		logger.WithField("login", cfg.AdminLogin).Info("admin account created")
	}

	cache, closeCache := openCache(cfg)
	defer closeCache()

	binder := identity.NewBinder(cache, identity.TTLs{
		SessionToken: cfg.SessionTokenTTL,
		Fingerprint:  cfg.FingerprintTTL,
		PublicToken:  cfg.PublicTokenTTL,
		Tombstone:    cfg.TombstoneTTL,
	})
	repo := chat.NewRepo(gdb)

	var pub notify.Publisher = notify.LogPublisher{}
	if cfg.RabbitURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Logger.WithError(err).Fatal("rabbit publisher")
		}
		defer p.Close()
		pub = p
	}
	notifier := notify.New(repo, cache, pub, cfg.NotifyDedupeWindow)

	chatSvc := chat.NewService(repo, binder, ratelimit.New(cache), notifier, chat.OptionsFromConfig(cfg))

	provider, err := providerRegistry(cfg).Get(context.Background(), cfg.AIProvider, modelFor(cfg))
	if err != nil {
		// quiz endpoints answer 502 until configured
		logger.Logger.WithError(err).Warn("ai provider unavailable")
	}
	tpl, err := quiz.LoadTemplates(cfg.QuizTemplatesFile)
	if err != nil {
		logger.Logger.WithError(err).Fatal("load quiz templates")
	}
	quizSvc := quiz.NewService(provider, tpl, cfg.AITimeout)

	faqs, err := faq.Load(cfg.FAQFile)
	if err != nil {
		logger.Logger.WithError(err).Fatal("load faqs")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)

	h := handlers.NewHandler(gdb, cfg, chatSvc, quizSvc, faqs)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(cfg, h, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":       cfg.Addr,
			"cache":      cfg.CacheBackend,
			"ai":         cfg.AIProvider,
			"guest_auth": cfg.GuestAuthMode,
		}).Info("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	logger.Logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.WithError(err).Error("shutdown")
	}
}

// openCache returns the configured side-store. A Redis that cannot be
// reached at startup falls back to the in-process cache; bindings are
// ephemeral either way.
func openCache(cfg config.Config) (ttlcache.Cache, func()) {
	if cfg.CacheBackend == "redis" {
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := rs.Ping(ctx)
		if err == nil {
			return rs, func() { _ = rs.Close() }
		}
		logger.Logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis unreachable, using memory cache")
		_ = rs.Close()
	}
	mem := ttlcache.NewMemory(time.Minute)
	return mem, mem.Close
}

// modelFor returns AI_MODEL for OpenAI; the other providers have their own
// model settings.
func modelFor(cfg config.Config) string {
	if cfg.AIProvider == "openai" {
		return cfg.AIModel
	}
	return ""
}

func providerRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is not set")
		}
		return ai.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model, nil), nil
	})

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is not set")
		}
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	return reg
}
