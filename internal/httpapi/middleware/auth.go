package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/quiz-assist/internal/auth"
	"github.com/suPer8Hu/quiz-assist/internal/common"
	"github.com/suPer8Hu/quiz-assist/internal/identity"
)

const callerKey = "caller"

// ResolveCaller builds the request's identity.Caller. A missing bearer token
// means guest; a bad one is rejected rather than silently downgraded.
func ResolveCaller(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := identity.Guest(c.ClientIP(), c.Request.UserAgent())

		if h := c.GetHeader("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				common.Abort(c, http.StatusUnauthorized, 40101, "invalid authorization header")
				return
			}
			claims, err := auth.ParseJWT(strings.TrimSpace(parts[1]), jwtSecret)
			if err != nil {
				common.Abort(c, http.StatusUnauthorized, 40102, "invalid or expired token")
				return
			}
			caller.UserID = claims.UserID
			caller.Role = identity.RoleUser
			if claims.Admin {
				caller.Role = identity.RoleAdmin
			}
		}

		caller.SessionToken = strings.TrimSpace(c.GetHeader(identity.HeaderSessionToken))
		caller.FingerprintHint = strings.TrimSpace(c.GetHeader(identity.HeaderFingerprint))
		caller.PublicToken = strings.TrimSpace(c.GetHeader(identity.HeaderPublicToken))

		c.Set(callerKey, caller)
		c.Request = c.Request.WithContext(identity.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

// CallerFrom returns the resolved caller, a guest when ResolveCaller did not run.
func CallerFrom(c *gin.Context) identity.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(identity.Caller); ok {
			return caller
		}
	}
	return identity.Guest(c.ClientIP(), c.Request.UserAgent())
}

// AdminRequired must run after ResolveCaller.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if !caller.Authenticated() {
			common.Abort(c, http.StatusUnauthorized, 40100, "login required")
			return
		}
		if !caller.IsAdmin() {
			common.Abort(c, http.StatusForbidden, 40300, "forbidden")
			return
		}
		c.Next()
	}
}
