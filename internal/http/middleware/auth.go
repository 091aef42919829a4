package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobboard-chat/internal/auth"
	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

const (
	principalKey = "principal"
	// userIDKey holds the principal key; the rate limiter and idempotency
	// lookups read it.
	userIDKey = "userID"
)

// Authenticator resolves the principal behind a request.
type Authenticator interface {
	FromRequest(r *http.Request) (domain.Principal, error)
}

// Authenticate rejects unauthenticated requests with 401 and stores the
// principal in the Gin context. The request logger is re-tagged with it.
func Authenticate(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.FromRequest(c.Request)
		if err != nil {
			code, msg := "auth_invalid", "invalid credentials"
			if errors.Is(err, auth.ErrMissing) {
				code, msg = "auth_missing", "authentication required"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       code,
				"message":    msg,
			})
			return
		}
		c.Set(principalKey, p)
		c.Set(userIDKey, p.Key())
		setLogger(c, LoggerFrom(c).With().Str("principal", p.Key()).Logger())
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c *gin.Context) (domain.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return domain.Principal{}, false
	}
	p, ok := v.(domain.Principal)
	return p, ok && p.Valid()
}
