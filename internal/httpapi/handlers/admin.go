package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/httpapi/middleware"
)

func (h *Handler) AdminListSessions(c *gin.Context) {
	rows, err := h.ChatSvc.AdminListSessions(c.Request.Context(), middleware.CallerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": rows})
}

func (h *Handler) AdminGetSession(c *gin.Context) {
	id, ok := parseSessionID(c.Param("id"))
	if !ok {
		common.Fail(c, http.StatusBadRequest, 40000, "invalid session id")
		return
	}
	meta, err := h.ChatSvc.AdminGetSessionMeta(c.Request.Context(), middleware.CallerFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"session": meta})
}

func (h *Handler) AdminListMessages(c *gin.Context) {
	id, ok := parseSessionID(c.Param("id"))
	if !ok {
		common.Fail(c, http.StatusBadRequest, 40000, "invalid session id")
		return
	}
	limit := parseLimit(c.Query("limit"), h.Cfg.MessageListDefault)

	msgs, err := h.ChatSvc.AdminListMessages(c.Request.Context(), middleware.CallerFrom(c), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"messages": toMessageDTOs(msgs)})
}

func (h *Handler) AdminSend(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	m, err := h.ChatSvc.AdminSendMessage(c.Request.Context(), middleware.CallerFrom(c), req.SessionID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"ok": true, "message": toMessageDTO(*m, 0)})
}

func (h *Handler) AdminDeleteSession(c *gin.Context) {
	id, ok := parseSessionID(c.Param("id"))
	if !ok {
		common.Fail(c, http.StatusBadRequest, 40000, "invalid session id")
		return
	}
	if err := h.ChatSvc.AdminDeleteSession(c.Request.Context(), middleware.CallerFrom(c), id); err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"ok": true})
}
