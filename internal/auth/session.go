package auth

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	sessionUserKey = "user_id"
	contextUserKey = "auth.user_id"
	sessionMaxAge  = 7 * 24 * time.Hour
)

// NewSessionStore returns a signed cookie store for login sessions.
func NewSessionStore(secret []byte, secure bool) sessions.Store {
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

// Login starts a fresh session for the user.
func Login(c *gin.Context, userID uuid.UUID) error {
	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionUserKey, userID.String())
	return session.Save()
}

func Logout(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	return session.Save()
}

// RequireUser rejects requests without a logged-in session and stores the
// user ID on the context for UserID.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, _ := sessions.Default(c).Get(sessionUserKey).(string)
		id, err := uuid.Parse(raw)
		if raw == "" || err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Please log in to continue",
			})
			return
		}
		c.Set(contextUserKey, id)
		c.Next()
	}
}

// UserID returns the authenticated user set by RequireUser.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
