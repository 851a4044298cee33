package chargemodule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenSource fetches and caches a client-credentials bearer token.
type tokenSource struct {
	url          string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// expiryLeeway refreshes the token shortly before the server would reject it.
const expiryLeeway = 30 * time.Second

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	if t == nil || t.url == "" {
		return "", nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Before(t.expires) {
		return t.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("charge module token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("charge module token: unexpected status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("charge module token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("charge module token: empty access token")
	}

	t.token = body.AccessToken
	t.expires = t.now().Add(time.Duration(body.ExpiresIn)*time.Second - expiryLeeway)
	return t.token, nil
}
