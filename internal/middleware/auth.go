package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// ErrMissingToken is returned when no bearer token was sent
var ErrMissingToken = errors.New("missing bearer token")

// TokenValidator resolves an access token to a user id
type TokenValidator interface {
	UserID(ctx context.Context, token string) (string, error)
}

// SupabaseTokenValidator checks access tokens against Supabase Auth
type SupabaseTokenValidator struct {
	client *supabase.Client
}

// NewSupabaseTokenValidator creates a validator using the project's auth endpoint
func NewSupabaseTokenValidator(client *supabase.Client) *SupabaseTokenValidator {
	return &SupabaseTokenValidator{client: client}
}

// UserID returns the id of the user owning token
func (v *SupabaseTokenValidator) UserID(_ context.Context, token string) (string, error) {
	user, err := v.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return "", err
	}
	return user.ID.String(), nil
}

// Auth rejects requests without a valid bearer token and stores the
// caller's user id under UserIDKey.
func Auth(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		userID, err := validator.UserID(c.Request.Context(), token)
		if err != nil || userID == "" {
			logger.Info("rejected access token", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id, if any
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
