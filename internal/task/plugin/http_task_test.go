package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/batchrun/internal/task"
	"github.com/OpenNSW/batchrun/internal/task/fallback"
)

func statusServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(endpoints ...string) Config {
	return Config{
		Endpoints:      endpoints,
		AttemptTimeout: 2 * time.Second,
		MaxRefreshes:   1,
		RefreshBackoff: time.Millisecond,
	}
}

func runOne(t *testing.T, f TaskFactory, action task.Action, identity string) (*task.ExecutionResult, error) {
	t.Helper()
	target := task.Target{Descriptor: "reindex-42"}
	require.NoError(t, f.Check(action, target))
	unit, err := f.BuildExecutor(context.Background(), action, target)
	require.NoError(t, err)
	item := task.NewWorkItems([]string{identity}, target)[0]
	return unit.Execute(context.Background(), item)
}

func TestHTTPTask_DispatchFallsBackToNextEndpoint(t *testing.T) {
	var staleHits atomic.Int32
	stale := statusServer(t, http.StatusNotFound, `{"message":"unknown route"}`, &staleHits)

	var got DispatchRequest
	var gotAuth, gotMethod string
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"queued"}`))
	}))
	defer live.Close()

	f := NewTaskFactory(testConfig(stale.URL, live.URL))
	res, err := runOne(t, f, task.ActionDispatch, "tenant-key-1")

	require.NoError(t, err)
	assert.Equal(t, "HTTP 202: queued", res.Message)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), staleHits.Load())
	assert.Equal(t, "Bearer tenant-key-1", gotAuth)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "reindex-42", got.Target)
}

func TestHTTPTask_ForbiddenStopsImmediately(t *testing.T) {
	var secondHits atomic.Int32
	first := statusServer(t, http.StatusForbidden, `{"message":"key revoked"}`, nil)
	second := statusServer(t, http.StatusOK, `{}`, &secondHits)

	f := NewTaskFactory(testConfig(first.URL, second.URL))
	_, err := runOne(t, f, task.ActionDispatch, "tenant-key-1")

	var taskErr *task.Error
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, task.CategoryAuthFailure, taskErr.Category)
	assert.Equal(t, 1, taskErr.Attempts)
	assert.Contains(t, taskErr.Message, "key revoked")
	assert.Equal(t, int32(0), secondHits.Load())
}

func TestHTTPTask_AllEndpointsUnavailable(t *testing.T) {
	a := statusServer(t, http.StatusServiceUnavailable, ``, nil)
	b := statusServer(t, http.StatusTooManyRequests, ``, nil)

	f := NewTaskFactory(testConfig(a.URL, b.URL))
	_, err := runOne(t, f, task.ActionDispatch, "tenant-key-1")

	assert.Equal(t, task.CategoryTransientFailure, task.CategoryOf(err))
	assert.Equal(t, 2, task.AttemptsOf(err))
}

func TestHTTPTask_AllEndpointsReject(t *testing.T) {
	a := statusServer(t, http.StatusNotFound, ``, nil)
	b := statusServer(t, http.StatusUnprocessableEntity, `{"message":"unknown target"}`, nil)

	f := NewTaskFactory(testConfig(a.URL, b.URL))
	_, err := runOne(t, f, task.ActionDispatch, "tenant-key-1")

	assert.Equal(t, task.CategoryOperationFailure, task.CategoryOf(err))
	assert.Contains(t, err.Error(), "unknown target")
}

func TestHTTPTask_ConnectionErrorMovesOn(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	live := statusServer(t, http.StatusOK, `{"message":"ok"}`, nil)

	f := NewTaskFactory(testConfig(deadURL, live.URL))
	res, err := runOne(t, f, task.ActionDispatch, "tenant-key-1")

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestHTTPTask_StatusUsesGet(t *testing.T) {
	var query, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		query = r.URL.Query().Get("target")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewTaskFactory(testConfig(srv.URL + "/v1/jobs"))
	res, err := runOne(t, f, task.ActionStatus, "tenant-key-1")

	require.NoError(t, err)
	assert.Equal(t, "HTTP 200", res.Message)
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "reindex-42", query)
}

func TestHTTPTask_RefreshesSessionOnUnauthorized(t *testing.T) {
	var issued atomic.Int32
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenExchangeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Key != "tenant-key-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		n := issued.Add(1)
		_ = json.NewEncoder(w).Encode(tokenExchangeResponse{
			AccessToken: map[int32]string{1: "expired", 2: "fresh"}[n],
			TokenType:   "bearer",
			ExpiresIn:   60,
		})
	}))
	defer tokens.Close()

	var calls atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	cfg := testConfig(endpoint.URL)
	cfg.TokenURL = tokens.URL
	f := NewTaskFactory(cfg)

	res, err := runOne(t, f, task.ActionDispatch, "tenant-key-1")

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), issued.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPTask_TokenExchangeRejectsIdentity(t *testing.T) {
	tokens := statusServer(t, http.StatusForbidden, ``, nil)
	var endpointHits atomic.Int32
	endpoint := statusServer(t, http.StatusOK, ``, &endpointHits)

	cfg := testConfig(endpoint.URL)
	cfg.TokenURL = tokens.URL
	_, err := runOne(t, NewTaskFactory(cfg), task.ActionDispatch, "tenant-key-1")

	assert.Equal(t, task.CategoryAuthFailure, task.CategoryOf(err))
	assert.Equal(t, int32(0), endpointHits.Load())
}

func TestHTTPTask_TokenExchangeUnexpectedResponseIsUnknown(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"bad request", http.StatusBadRequest, `{"error":"unsupported grant"}`},
		{"non-JSON body", http.StatusOK, `<html>login</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := statusServer(t, tt.status, tt.body, nil)
			var endpointHits atomic.Int32
			endpoint := statusServer(t, http.StatusOK, ``, &endpointHits)

			cfg := testConfig(endpoint.URL)
			cfg.TokenURL = tokens.URL
			_, err := runOne(t, NewTaskFactory(cfg), task.ActionDispatch, "tenant-key-1")

			require.Error(t, err)
			assert.Equal(t, task.CategoryUnknown, task.CategoryOf(err))
			assert.Equal(t, int32(0), endpointHits.Load())
		})
	}
}

func TestSessionError(t *testing.T) {
	unknown := task.NewError(task.CategoryUnknown, "token exchange returned HTTP 400")
	assert.Same(t, unknown, sessionError(unknown))
	assert.Equal(t, task.CategoryAuthFailure, task.CategoryOf(sessionError(errors.New("no session"))))
}

func TestHTTPTask_UnitsDoNotShareSessions(t *testing.T) {
	var mu sync.Mutex
	cookies := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		mu.Lock()
		if c, err := r.Cookie("session"); err == nil {
			cookies[auth] = c.Value
		}
		mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "session", Value: auth, Path: "/"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewTaskFactory(testConfig(srv.URL))
	target := task.Target{Descriptor: "reindex-42"}
	a, err := f.BuildExecutor(context.Background(), task.ActionDispatch, target)
	require.NoError(t, err)
	b, err := f.BuildExecutor(context.Background(), task.ActionDispatch, target)
	require.NoError(t, err)

	ta, tb := a.(*HTTPTask), b.(*HTTPTask)
	assert.NotSame(t, ta.client, tb.client)
	assert.NotSame(t, ta.client.Transport, tb.client.Transport)
	assert.NotSame(t, ta.client.Jar, tb.client.Jar)

	items := task.NewWorkItems([]string{"key-a", "key-b"}, target)
	_, err = a.Execute(context.Background(), items[0])
	require.NoError(t, err)
	_, err = b.Execute(context.Background(), items[1])
	require.NoError(t, err)

	// b must not have presented the cookie issued to a
	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, cookies, "Bearer key-b")
}

func TestTaskFactory_Check(t *testing.T) {
	target := task.Target{Descriptor: "job"}

	f := NewTaskFactory(Config{})
	assert.NoError(t, f.Check(task.ActionValidate, task.Target{}))
	assert.ErrorIs(t, f.Check(task.ActionDispatch, task.Target{}), task.ErrMissingTarget)
	assert.Error(t, f.Check(task.ActionDispatch, target))
	assert.ErrorIs(t, f.Check(task.Action("react"), target), task.ErrUnknownAction)

	f = NewTaskFactory(Config{Endpoints: []string{"ftp://example.com"}})
	assert.Error(t, f.Check(task.ActionStatus, target))

	f = NewTaskFactory(Config{Endpoints: []string{"https://api.example.com/v1/jobs"}})
	assert.NoError(t, f.Check(task.ActionStatus, target))
}

func TestValidateTask(t *testing.T) {
	unit, err := NewTaskFactory(Config{}).BuildExecutor(context.Background(), task.ActionValidate, task.Target{})
	require.NoError(t, err)

	res, err := unit.Execute(context.Background(), task.WorkItem{Identity: "k"})

	require.NoError(t, err)
	assert.Equal(t, "identity accepted", res.Message)
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		status int
		want   fallback.Verdict
	}{
		{http.StatusOK, fallback.Succeeded},
		{http.StatusNoContent, fallback.Succeeded},
		{http.StatusUnauthorized, fallback.RefreshSession},
		{http.StatusForbidden, fallback.SessionRejected},
		{http.StatusRequestTimeout, fallback.TransportFailed},
		{http.StatusTooManyRequests, fallback.TransportFailed},
		{http.StatusBadGateway, fallback.TransportFailed},
		{http.StatusNotFound, fallback.NextFallback},
		{http.StatusGone, fallback.NextFallback},
		{http.StatusConflict, fallback.NextFallback},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, classifyResponse(tc.status, nil).Verdict)
		})
	}

	assert.Equal(t, "HTTP 404: gone fishing", classifyResponse(404, []byte(`{"message":"gone fishing"}`)).Message)
	assert.Equal(t, "HTTP 404", classifyResponse(404, []byte(`<html>`)).Message)
}

type recordingObserver struct {
	mu       sync.Mutex
	verdicts []string
}

func (o *recordingObserver) ObserveAttempt(action, verdict string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts = append(o.verdicts, action+"/"+verdict)
}

func TestHTTPTask_ReportsAttempts(t *testing.T) {
	a := statusServer(t, http.StatusNotFound, ``, nil)
	b := statusServer(t, http.StatusOK, ``, nil)
	obs := &recordingObserver{}

	_, err := runOne(t, NewTaskFactory(testConfig(a.URL, b.URL), WithAttemptObserver(obs)), task.ActionDispatch, "k1")

	require.NoError(t, err)
	assert.Equal(t, []string{"dispatch/next_fallback", "dispatch/succeeded"}, obs.verdicts)
}
