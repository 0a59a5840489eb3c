package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/quiz-assist/internal/auth"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/models"
	"gorm.io/gorm"
)

type loginReq struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login accepts a login name or an email address.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "login and password required")
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("login = ? OR email = ?", login, strings.ToLower(login)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(user.ID, user.IsAdmin, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"token": token,
		"user": gin.H{
			"id":       user.ID,
			"login":    user.Login,
			"email":    user.Email,
			"is_admin": user.IsAdmin,
		},
	})
}
