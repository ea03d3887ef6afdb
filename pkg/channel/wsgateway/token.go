package wsgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/channel"
)

const (
	refreshMargin  = 5 * time.Minute
	fallbackExpiry = 7200 * time.Second
)

// appTokenCache caches the bot's app access token. The token endpoint
// here takes a JSON body and returns expires_in as a string, which is
// why each adapter family carries its own cache rather than sharing one.
// The mutex is held across the refresh so callers single-flight.
type appTokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	tokenURL   string
	appID      string
	appSecret  string
	httpClient *http.Client
	now        func() time.Time
}

func newAppTokenCache(tokenURL, appID, appSecret string, client *http.Client) *appTokenCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &appTokenCache{
		tokenURL:   tokenURL,
		appID:      appID,
		appSecret:  appSecret,
		httpClient: client,
		now:        time.Now,
	}
}

func (c *appTokenCache) get(ctx context.Context) (string, error) {
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

func (c *appTokenCache) fetch(ctx context.Context) (string, int, error) {
	payload, err := json.Marshal(map[string]string{
		"appId":        c.appID,
		"clientSecret": c.appSecret,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	// expires_in arrives as a JSON string on this platform.
	var result struct {
		AccessToken string          `json:"access_token"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
		Code        int             `json:"code"`
		Message     string          `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if result.Code != 0 {
		return "", 0, fmt.Errorf("token endpoint error %d: %s", result.Code, result.Message)
	}
	if result.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access_token")
	}
	return result.AccessToken, parseExpiresIn(result.ExpiresIn), nil
}

func parseExpiresIn(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if n, err := strconv.Atoi(asString); err == nil {
			return n
		}
	}
	return 0
}
