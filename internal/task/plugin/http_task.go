package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/OpenNSW/batchrun/internal/task"
	"github.com/OpenNSW/batchrun/internal/task/fallback"
)

// refreshRetries bounds retries of a transiently failing session refresh.
const refreshRetries = 2

// DispatchRequest is the body POSTed to an endpoint by the dispatch action.
type DispatchRequest struct {
	Target string    `json:"target"`
	ItemID uuid.UUID `json:"itemId"`
}

// endpointResponse is the optional JSON body returned by an endpoint.
type endpointResponse struct {
	Message string `json:"message"`
}

// HTTPTask sends one request per endpoint, in fallback order, on behalf of a
// single identity. Every HTTPTask owns its client, transport, cookie jar and
// session tokens.
type HTTPTask struct {
	action    task.Action
	method    string
	endpoints []string
	target    task.Target
	cfg       Config
	client    *http.Client
	session   SessionSource
	tokens    TokenSet
	identity  string
	observer  AttemptObserver
}

// NewHTTPTask builds a task with a freshly allocated HTTP client.
func NewHTTPTask(action task.Action, target task.Target, cfg Config, session SessionSource, observer AttemptObserver) (*HTTPTask, error) {
	cfg.AttemptTimeout = clampAttemptTimeout(cfg.AttemptTimeout)
	method := http.MethodPost
	if action == task.ActionStatus {
		method = http.MethodGet
	}
	client, err := newIsolatedClient(cfg.AttemptTimeout)
	if err != nil {
		return nil, err
	}
	return &HTTPTask{
		action:    action,
		method:    method,
		endpoints: append([]string(nil), cfg.Endpoints...),
		target:    target,
		cfg:       cfg,
		client:    client,
		session:   session,
		observer:  observer,
	}, nil
}

// newIsolatedClient returns a client that shares no connections or cookies
// with any other client.
func newIsolatedClient(timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{
		Timeout:   timeout,
		Jar:       jar,
		Transport: transport,
	}, nil
}

func (t *HTTPTask) Execute(ctx context.Context, item task.WorkItem) (*task.ExecutionResult, error) {
	defer t.client.CloseIdleConnections()

	t.identity = item.Identity
	tokens, err := t.session.Fetch(ctx, t.client, t.identity)
	if err != nil {
		return nil, sessionError(err)
	}
	t.tokens = tokens

	res := fallback.Attempt(ctx, t.endpoints, func(ctx context.Context, endpoint string) fallback.Outcome {
		return t.try(ctx, endpoint, item)
	}, fallback.Policy{
		MaxRefreshes: t.cfg.MaxRefreshes,
		Refresh:      t.refresh,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = t.cfg.RefreshBackoff
			b.MaxElapsedTime = t.cfg.AttemptTimeout
			return backoff.WithMaxRetries(b, refreshRetries)
		},
		OnAttempt: func(index int, outcome fallback.Outcome) {
			if t.observer != nil {
				t.observer.ObserveAttempt(string(t.action), outcome.Verdict.String())
			}
		},
	})

	slog.DebugContext(ctx, "http task finished",
		"action", t.action,
		"seq", item.Seq,
		"identityRef", item.Ref(),
		"succeeded", res.Succeeded,
		"attempts", res.Attempts,
		"category", res.Category)

	if err := res.Err(); err != nil {
		return nil, err
	}
	return &task.ExecutionResult{Message: res.Message, Attempts: res.Attempts}, nil
}

func (t *HTTPTask) refresh(ctx context.Context) error {
	tokens, err := t.session.Fetch(ctx, t.client, t.identity)
	if err != nil {
		return sessionError(err)
	}
	t.tokens = tokens
	return nil
}

func (t *HTTPTask) try(ctx context.Context, endpoint string, item task.WorkItem) fallback.Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.AttemptTimeout)
	defer cancel()

	req, err := t.newRequest(attemptCtx, endpoint, item)
	if err != nil {
		// a malformed endpoint is specific to this fallback
		return fallback.Outcome{Verdict: fallback.NextFallback, Message: "invalid endpoint", Err: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fallback.Outcome{Verdict: fallback.TransportFailed, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, readErr := readAllWithLimit(resp.Body, t.cfg.MaxBodyBytes)
	if readErr != nil && !IsResponseTooLarge(readErr) && isTransportError(readErr) {
		return fallback.Outcome{Verdict: fallback.TransportFailed, Message: "failed to read response", Err: readErr}
	}
	return classifyResponse(resp.StatusCode, data)
}

func (t *HTTPTask) newRequest(ctx context.Context, endpoint string, item task.WorkItem) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if t.method == http.MethodGet {
		q := u.Query()
		q.Set("target", t.target.Descriptor)
		q.Set("itemId", item.ID.String())
		u.RawQuery = q.Encode()
	} else {
		payload, err := json.Marshal(DispatchRequest{Target: t.target.Descriptor, ItemID: item.ID})
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, t.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", item.ID.String())
	t.tokens.Apply(req)
	return req, nil
}

// classifyResponse maps an HTTP status to a fallback verdict.
func classifyResponse(status int, body []byte) fallback.Outcome {
	message := fmt.Sprintf("HTTP %d", status)
	var er endpointResponse
	if len(body) > 0 && json.Unmarshal(body, &er) == nil && er.Message != "" {
		message = fmt.Sprintf("%s: %s", message, er.Message)
	}

	switch {
	case status >= 200 && status < 300:
		return fallback.Outcome{Verdict: fallback.Succeeded, Message: message}
	case status == http.StatusUnauthorized:
		return fallback.Outcome{Verdict: fallback.RefreshSession, Message: message}
	case status == http.StatusForbidden:
		return fallback.Outcome{Verdict: fallback.SessionRejected, Message: message}
	case isRetryableStatus(status):
		return fallback.Outcome{Verdict: fallback.TransportFailed, Message: message}
	default:
		return fallback.Outcome{Verdict: fallback.NextFallback, Message: message}
	}
}

// sessionError keeps categorised session errors and treats the rest as auth failures.
func sessionError(err error) error {
	var taskErr *task.Error
	if errors.As(err, &taskErr) {
		return err
	}
	return task.WrapError(task.CategoryAuthFailure, "failed to obtain session", err)
}
