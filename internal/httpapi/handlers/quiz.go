package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/quiz"
)

func (h *Handler) QuizActions(c *gin.Context) {
	common.OK(c, gin.H{"actions": h.QuizSvc.Actions()})
}

func (h *Handler) QuizAsk(c *gin.Context) {
	var req quiz.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	reply, err := h.QuizSvc.Ask(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"reply": reply})
}

type globalChatReq struct {
	Message string `json:"message"`
}

func (h *Handler) GlobalChat(c *gin.Context) {
	var req globalChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	reply, err := h.QuizSvc.GlobalChat(c.Request.Context(), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{"reply": reply})
}
