package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"escrow-engine-go/internal/models"

	"github.com/gbrlsnchs/jwt/v3"
	"go.uber.org/zap"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the token payload. The subject carries the user id.
type Claims struct {
	jwt.Payload
	Role string `json:"role,omitempty"`
}

type Authenticator struct {
	secret *jwt.HMACSHA
	now    func() time.Time
}

func New(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret cannot be empty")
	}
	return &Authenticator{
		secret: jwt.NewHS256([]byte(secret)),
		now:    time.Now,
	}, nil
}

// Sign mints an HS256 token for userId. A zero ttl produces a token without expiry.
func (a *Authenticator) Sign(userId, role string, ttl time.Duration) (string, error) {
	if userId == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := a.now()
	claims := Claims{
		Payload: jwt.Payload{
			Subject:  userId,
			IssuedAt: jwt.NumericDate(now),
		},
		Role: role,
	}
	if ttl > 0 {
		claims.ExpirationTime = jwt.NumericDate(now.Add(ttl))
	}

	token, err := jwt.Sign(&claims, a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(token), nil
}

func (a *Authenticator) Verify(token string) (models.Actor, error) {
	var claims Claims
	validate := jwt.ValidatePayload(&claims.Payload, jwt.ExpirationTimeValidator(a.now()))
	if _, err := jwt.Verify([]byte(token), a.secret, &claims, validate); err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return models.Actor{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return models.Actor{UserId: claims.Subject, Role: claims.Role}, nil
}

// Middleware resolves the caller from the Authorization header, or from the
// token query parameter for websocket upgrades, and rejects anonymous requests.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if header := r.Header.Get("Authorization"); header != "" {
			if !strings.HasPrefix(header, "Bearer ") {
				zap.L().Warn("Missing Bearer prefix in auth header", zap.String("path", r.URL.Path))
				unauthorized(w, "missing Bearer prefix")
				return
			}
			token = strings.TrimPrefix(header, "Bearer ")
		}
		if token == "" {
			unauthorized(w, "authentication required")
			return
		}

		actor, err := a.Verify(token)
		if err != nil {
			zap.L().Warn("JWT verification failed", zap.String("path", r.URL.Path), zap.Error(err))
			unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(models.WithActor(r.Context(), actor)))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(models.Envelope{Success: false, Message: message})
}
