package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/OpenNSW/batchrun/internal/task"
)

// TokenSet holds the headers that authenticate one identity's session.
type TokenSet struct {
	Headers   map[string]string
	ExpiresAt time.Time
}

// Apply sets the session headers on req.
func (ts TokenSet) Apply(req *http.Request) {
	for k, v := range ts.Headers {
		req.Header.Set(k, v)
	}
}

// SessionSource obtains session tokens for an identity. Implementations are
// called with the unit's own HTTP client and must not cache across identities.
type SessionSource interface {
	Fetch(ctx context.Context, client *http.Client, identity string) (TokenSet, error)
}

// StaticBearer uses the identity itself as a bearer token.
type StaticBearer struct{}

func (StaticBearer) Fetch(_ context.Context, _ *http.Client, identity string) (TokenSet, error) {
	return TokenSet{Headers: map[string]string{"Authorization": "Bearer " + identity}}, nil
}

// TokenExchange trades the identity for a short-lived access token at URL.
type TokenExchange struct {
	URL          string
	MaxBodyBytes int64
}

type tokenExchangeRequest struct {
	Key string `json:"key"`
}

type tokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s TokenExchange) Fetch(ctx context.Context, client *http.Client, identity string) (TokenSet, error) {
	body, err := json.Marshal(tokenExchangeRequest{Key: identity})
	if err != nil {
		return TokenSet{}, task.WrapError(task.CategoryUnknown, "failed to encode token request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return TokenSet{}, task.WrapError(task.CategoryUnknown, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return TokenSet{}, task.WrapError(task.CategoryTransientFailure, "token exchange failed", err)
	}
	defer resp.Body.Close()

	data, err := readAllWithLimit(resp.Body, s.MaxBodyBytes)
	if err != nil {
		return TokenSet{}, task.WrapError(task.CategoryTransientFailure, "failed to read token response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return TokenSet{}, task.NewError(task.CategoryAuthFailure, fmt.Sprintf("token exchange rejected identity: HTTP %d", resp.StatusCode))
	case isRetryableStatus(resp.StatusCode):
		return TokenSet{}, task.NewError(task.CategoryTransientFailure, fmt.Sprintf("token exchange unavailable: HTTP %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return TokenSet{}, task.NewError(task.CategoryUnknown, fmt.Sprintf("token exchange returned HTTP %d", resp.StatusCode))
	}

	var tr tokenExchangeResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return TokenSet{}, task.WrapError(task.CategoryUnknown, "invalid token response", err)
	}
	if tr.AccessToken == "" {
		return TokenSet{}, task.NewError(task.CategoryAuthFailure, "token response has no access_token")
	}

	tokenType := tr.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	ts := TokenSet{Headers: map[string]string{"Authorization": tokenType + " " + tr.AccessToken}}
	if tr.ExpiresIn > 0 {
		ts.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return ts, nil
}

// isTransportError reports whether err came from the network rather than the server.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}
