package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrow-engine-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	a, err := New("test-secret")
	require.NoError(t, err)

	token, err := a.Sign("user1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	actor, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user1", actor.UserId)
	assert.True(t, actor.IsAdmin())
}

func TestVerify_Rejects(t *testing.T) {
	a, err := New("test-secret")
	require.NoError(t, err)
	other, err := New("other-secret")
	require.NoError(t, err)

	forged, err := other.Sign("user1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = a.Verify(forged)
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := a.Sign("user1", "", time.Hour)
	require.NoError(t, err)
	a.now = time.Now
	_, err = a.Verify(expired)
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = a.Verify("not-a-token")
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	_, err = New("")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a, err := New("test-secret")
	require.NoError(t, err)
	token, err := a.Sign("user2", "", 0)
	require.NoError(t, err)

	var seen models.Actor
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = models.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"header", "/balances", "Bearer " + token, http.StatusNoContent},
		{"query", "/ws/p2p/trades/t1?token=" + token, "", http.StatusNoContent},
		{"missing", "/balances", "", http.StatusUnauthorized},
		{"no prefix", "/balances", token, http.StatusUnauthorized},
		{"garbage", "/balances", "Bearer abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = models.Actor{}
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusNoContent {
				assert.Equal(t, "user2", seen.UserId)
			}
		})
	}
}
