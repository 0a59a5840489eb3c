package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/httpapi/handlers"
	"github.com/suPer8Hu/quiz-assist/internal/httpapi/middleware"
	"github.com/suPer8Hu/quiz-assist/internal/identity"
)

// NewRouter mounts every route. gatherer backs /metrics; nil disables it.
func NewRouter(cfg config.Config, h *handlers.Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())
	r.Use(middleware.Metrics())
	r.Use(cors.New(corsConfig(cfg.CORSAllowedOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	r.POST("/login", h.Login)

	api := r.Group("/")
	api.Use(middleware.ResolveCaller(cfg.JWTSecret))

	chatGroup := api.Group("/chat")
	chatGroup.POST("/public-token", h.IssuePublicToken)
	chatGroup.POST("/start", h.StartChat)
	chatGroup.POST("/send", h.SendChat)
	chatGroup.GET("/messages", h.ListChat)
	chatGroup.GET("/faqs", h.ListFAQs)

	adminGroup := api.Group("/admin/chat")
	adminGroup.Use(middleware.AdminRequired())
	adminGroup.GET("/sessions", h.AdminListSessions)
	adminGroup.GET("/sessions/:id", h.AdminGetSession)
	adminGroup.GET("/sessions/:id/messages", h.AdminListMessages)
	adminGroup.POST("/send", h.AdminSend)
	adminGroup.DELETE("/sessions/:id", h.AdminDeleteSession)

	quizGroup := api.Group("/quiz")
	quizGroup.GET("/actions", h.QuizActions)
	quizGroup.POST("/ask", h.QuizAsk)
	quizGroup.POST("/global-chat", h.GlobalChat)

	return r
}

// corsConfig allows any origin when none are configured; the widget is
// embedded on third-party pages.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader,
			identity.HeaderSessionToken, identity.HeaderFingerprint, identity.HeaderPublicToken,
		},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
