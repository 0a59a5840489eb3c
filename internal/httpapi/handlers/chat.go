package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/suPer8Hu/quiz-assist/internal/chat"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/httpapi/middleware"
)

type messageDTO struct {
	ID        uint64    `json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageDTO(m chat.Message, _ int) messageDTO {
	return messageDTO{ID: m.ID, Sender: m.Sender, Message: m.Body, CreatedAt: m.CreatedAt}
}

func toMessageDTOs(msgs []chat.Message) []messageDTO {
	return lo.Map(msgs, toMessageDTO)
}

// parseLimit falls back to def when the parameter is absent or not a number.
// Range clamping is the service's job.
func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

func parseSessionID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) IssuePublicToken(c *gin.Context) {
	tok, err := h.ChatSvc.IssuePublicToken(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"public_token": tok})
}

type startReq struct {
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
	GuestPhone string `json:"guest_phone"`
}

func (h *Handler) StartChat(c *gin.Context) {
	var req startReq
	// logged-in users post an empty body
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
	}

	res, err := h.ChatSvc.StartSession(c.Request.Context(), middleware.CallerFrom(c), chat.GuestContact{
		Name:  req.GuestName,
		Email: req.GuestEmail,
		Phone: req.GuestPhone,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, res)
}

type sendReq struct {
	SessionID uint64 `json:"session_id"`
	Message   string `json:"message"`
}

func (h *Handler) SendChat(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m, err := h.ChatSvc.SendMessage(c.Request.Context(), middleware.CallerFrom(c), req.SessionID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"ok": true, "message": toMessageDTO(*m, 0)})
}

func (h *Handler) ListChat(c *gin.Context) {
	id, ok := parseSessionID(c.Query("session_id"))
	if !ok {
		common.Fail(c, http.StatusBadRequest, 40000, "session_id is required")
		return
	}
	limit := parseLimit(c.Query("limit"), h.Cfg.MessageListDefault)

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), middleware.CallerFrom(c), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"messages": toMessageDTOs(msgs)})
}

func (h *Handler) ListFAQs(c *gin.Context) {
	common.OK(c, gin.H{"faqs": h.FAQs.All()})
}
