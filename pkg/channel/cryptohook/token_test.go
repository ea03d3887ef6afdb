package cryptohook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satrio/kurir/pkg/channel"
)

func newTokenServer(t *testing.T, fetches *atomic.Int32, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cgi-bin/gettoken", r.URL.Path)
		require.Equal(t, "corp1", r.URL.Query().Get("corpid"))
		n := fetches.Add(1)
		fmt.Fprintf(w, `{"errcode":0,"errmsg":"ok","access_token":"tok-%d","expires_in":%d}`, n, expiresIn)
	}))
}

func TestCredentialCache_ReusesFreshToken(t *testing.T) {
	var fetches atomic.Int32
	srv := newTokenServer(t, &fetches, 7200)
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	cache := newCredentialCache(srv.URL, "corp1", "secret", srv.Client())
	cache.now = func() time.Time { return now }

	tok1, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok1)

	// One second later the cached token is reused; no second fetch.
	now = now.Add(time.Second)
	tok2, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestCredentialCache_RefreshesInsideMargin(t *testing.T) {
	var fetches atomic.Int32
	srv := newTokenServer(t, &fetches, 7200)
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	cache := newCredentialCache(srv.URL, "corp1", "secret", srv.Client())
	cache.now = func() time.Time { return now }

	_, err := cache.get(context.Background())
	require.NoError(t, err)

	// 4 minutes before expiry is inside the 5-minute margin.
	now = now.Add(7200*time.Second - 4*time.Minute)
	tok, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestCredentialCache_FallbackExpiry(t *testing.T) {
	var fetches atomic.Int32
	srv := newTokenServer(t, &fetches, 0) // platform omits expires_in
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	cache := newCredentialCache(srv.URL, "corp1", "secret", srv.Client())
	cache.now = func() time.Time { return now }

	_, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(7200*time.Second), cache.expiresAt)
}

func TestCredentialCache_FetchFailureIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errcode":40013,"errmsg":"invalid corpid"}`)
	}))
	defer srv.Close()

	cache := newCredentialCache(srv.URL, "corp1", "secret", srv.Client())

	_, err := cache.get(context.Background())
	require.Error(t, err)

	var authErr *channel.AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.Contains(t, err.Error(), "invalid corpid")
}

func TestCredentialCache_Invalidate(t *testing.T) {
	var fetches atomic.Int32
	srv := newTokenServer(t, &fetches, 7200)
	defer srv.Close()

	cache := newCredentialCache(srv.URL, "corp1", "secret", srv.Client())

	_, err := cache.get(context.Background())
	require.NoError(t, err)

	cache.invalidate()

	tok, err := cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}
