package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brightfield-labs/writing-desk/internal/platform/ctxutil"
)

// AttachRequestContext extracts the pre-authenticated caller identity from
// request headers and attaches it to the request context as ctxutil.RequestData.
// It does not authenticate anything — it trusts X-User-Id as set by whatever
// sits in front of this service (a gateway, a test harness, or a human
// operator during local development). Real authentication is out of scope.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &ctxutil.RequestData{
			SessionID: strings.TrimSpace(c.GetHeader("X-Session-Id")),
		}
		if raw := strings.TrimSpace(c.GetHeader("X-User-Id")); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				rd.UserID = id
			}
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), rd)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUserID aborts with 401 when no caller identity was attached by
// AttachRequestContext. It stands in for real authentication, which is an
// explicit non-goal of this service.
func RequireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := ctxutil.GetRequestData(c.Request.Context())
		if rd == nil || rd.UserID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing caller identity", "code": "unauthenticated"}})
			return
		}
		c.Next()
	}
}
