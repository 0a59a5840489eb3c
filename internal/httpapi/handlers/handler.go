package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/quiz-assist/internal/ai"
	"github.com/suPer8Hu/quiz-assist/internal/chat"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/config"
	"github.com/suPer8Hu/quiz-assist/internal/faq"
	"github.com/suPer8Hu/quiz-assist/internal/httpapi/middleware"
	"github.com/suPer8Hu/quiz-assist/internal/logger"
	"github.com/suPer8Hu/quiz-assist/internal/quiz"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	QuizSvc *quiz.Service
	FAQs    *faq.Store
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, quizSvc *quiz.Service, faqs *faq.Store) *Handler {
	return &Handler{DB: db, Cfg: cfg, ChatSvc: chatSvc, QuizSvc: quizSvc, FAQs: faqs}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// writeError is the one place service errors become HTTP responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation), errors.Is(err, quiz.ErrInvalid):
		common.Fail(c, http.StatusBadRequest, 40000, err.Error())
	case errors.Is(err, chat.ErrAccessDenied):
		common.Fail(c, http.StatusForbidden, 40301, "access denied")
	case errors.Is(err, chat.ErrForbidden):
		common.Fail(c, http.StatusForbidden, 40300, "forbidden")
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, chat.ErrSessionGone):
		common.Fail(c, http.StatusGone, 41000, "session gone")
	case errors.Is(err, chat.ErrRateLimited):
		common.Fail(c, http.StatusTooManyRequests, 42900, "too many requests")
	case errors.Is(err, ai.ErrUpstream) && errors.Is(err, context.DeadlineExceeded):
		common.Fail(c, http.StatusGatewayTimeout, 50401, "assistant timed out")
	case errors.Is(err, ai.ErrUpstream):
		common.Fail(c, http.StatusBadGateway, 50201, "assistant unavailable")
	default:
		logger.WithFields(logrus.Fields{
			"request_id": middleware.RequestIDFrom(c),
			"path":       c.Request.URL.Path,
		}).WithError(err).Error("internal error")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
