package cryptohook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/channel"
)

const (
	// refreshMargin forces a refresh this long before the cached token
	// actually expires.
	refreshMargin = 5 * time.Minute

	// fallbackExpiry is assumed when the platform omits expires_in.
	fallbackExpiry = 7200 * time.Second
)

// credentialCache holds the short-lived bearer token for the send API.
// It is owned exclusively by one adapter instance, never persisted, and
// recreated on every process start. The mutex is held across the refresh
// so concurrent callers single-flight onto one fetch.
type credentialCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	apiBase    string
	corpID     string
	corpSecret string
	httpClient *http.Client
	now        func() time.Time
}

func newCredentialCache(apiBase, corpID, corpSecret string, client *http.Client) *credentialCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &credentialCache{
		apiBase:    apiBase,
		corpID:     corpID,
		corpSecret: corpSecret,
		httpClient: client,
		now:        time.Now,
	}
}

// get returns a valid token, refreshing synchronously when the cached one
// is missing or inside the refresh margin. A fetch failure is returned as
// an AuthError; token absence is a hard blocker for sending.
func (c *credentialCache) get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt.Add(-refreshMargin)) {
		return c.token, nil
	}

	token, expiresIn, err := c.fetch(ctx)
	observability.RecordTokenRefresh(channelName, err == nil)
	if err != nil {
		return "", &channel.AuthError{Channel: channelName, Err: err}
	}

	if expiresIn <= 0 {
		expiresIn = int(fallbackExpiry / time.Second)
	}
	c.token = token
	c.expiresAt = c.now().Add(time.Duration(expiresIn) * time.Second)
	return c.token, nil
}

// invalidate clears the cached token after the platform rejects it.
func (c *credentialCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func (c *credentialCache) fetch(ctx context.Context) (string, int, error) {
	endpoint := fmt.Sprintf("%s/cgi-bin/gettoken?corpid=%s&corpsecret=%s",
		c.apiBase, url.QueryEscape(c.corpID), url.QueryEscape(c.corpSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if result.ErrCode != 0 {
		return "", 0, fmt.Errorf("token endpoint error %d: %s", result.ErrCode, result.ErrMsg)
	}
	if result.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access_token")
	}
	return result.AccessToken, result.ExpiresIn, nil
}
