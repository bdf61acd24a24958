package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SirClappington/restq/internal/api"
	"github.com/SirClappington/restq/internal/dispatch"
	"github.com/SirClappington/restq/internal/domain"
	"github.com/SirClappington/restq/internal/metrics"
	"github.com/SirClappington/restq/internal/realm"
	"github.com/SirClappington/restq/internal/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	h     http.Handler
	reg   *realm.Registry
	clock *clock
}

func newEnv(t *testing.T, opts ...api.Option) *env {
	t.Helper()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := realm.NewRegistry(storage.NewMemoryStore(),
		realm.WithRealmDefaultLeaseTime(30*time.Second),
		realm.WithRealmOptions(realm.WithClock(c.Now)),
	)
	opts = append([]api.Option{api.WithLogger(zaptest.NewLogger(t))}, opts...)
	srv := api.New(reg, dispatch.New(reg), opts...)
	return &env{h: srv.Handler(), reg: reg, clock: c}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Code
}

func TestAddAndGetJob(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/alpha/job/j1", `{"queue_id": 0, "data": {"a": 1}, "tags": ["t"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/alpha/job/j1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tags":["t"],"data":{"a":1},"queues":[["0",0]]}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/alpha/job/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, api.CodeNotFound, errorCode(t, rec))
}

func TestAddJob_BadRequests(t *testing.T) {
	e := newEnv(t, api.WithMaxBodyBytes(64))

	cases := map[string]struct {
		body   string
		status int
		code   string
	}{
		"empty body":       {"", http.StatusBadRequest, api.CodeBadRequest},
		"not json":         {"queue_id=1", http.StatusBadRequest, api.CodeBadRequest},
		"missing queue_id": {`{"data": 1}`, http.StatusBadRequest, api.CodeBadRequest},
		"object queue_id":  {`{"queue_id": {}}`, http.StatusBadRequest, api.CodeBadRequest},
		"too large":        {`{"queue_id": "0", "data": "` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge, api.CodeTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := e.do(t, http.MethodPut, "/alpha/job/j1", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}

	rec := e.do(t, http.MethodGet, "/alpha/job?count=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddJob_Conflict(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/j1", `{"queue_id":"0","data":"x"}`).Code)
	// Same payload, different spacing.
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/j1", `{"queue_id":"0","data": "x" }`).Code)

	rec := e.do(t, http.MethodPut, "/alpha/job/j1", `{"queue_id":"0","data":"y"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, api.CodeConflict, errorCode(t, rec))
}

func TestPull(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/a", `{"queue_id":"0","data":{"n":1}}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/b", `{"queue_id":"1"}`).Code)

	rec := e.do(t, http.MethodGet, "/alpha/job", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"a":["0",{"n":1}]}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/alpha/job?count=5", "")
	assert.JSONEq(t, `{"b":["1",null]}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/alpha/job?count=5", "")
	assert.JSONEq(t, `{}`, rec.Body.String())

	e.clock.Advance(31 * time.Second)
	rec = e.do(t, http.MethodGet, "/alpha/job?count=5", "")
	var got map[string]api.PulledJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
	assert.Equal(t, "0", got["a"].QueueID)
	assert.Nil(t, got["b"].Data)
}

func TestPull_JobInTwoQueues(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/J", `{"queue_id":"0"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/J", `{"queue_id":"1"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/K", `{"queue_id":"1"}`).Code)

	rec := e.do(t, http.MethodGet, "/alpha/job?count=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"J":["1",null],"K":["1",null]}`, rec.Body.String())
}

func TestAddJob_SameDataOtherKeyOrder(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/j1", `{"queue_id":"0","tags":["t"],"data":{"a":1,"b":{"y":2,"x":"<>"}}}`).Code)
	rec := e.do(t, http.MethodPut, "/alpha/job/j1", `{"queue_id":"1","data":{"b":{"x":"<>","y":2},"a":1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/alpha/job/j1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tags":["t"],"data":{"a":1,"b":{"x":"<>","y":2}},"queues":[["0",0],["1",0]]}`, rec.Body.String())

	rec = e.do(t, http.MethodPut, "/alpha/job/j1", `{"queue_id":"0","data":{"a":1.5}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEscapedPathParams(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPut, "/alpha/job/a%2Fb", `{"queue_id":"0","tags":["t%2F1"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/alpha/job/a%2Fb", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/alpha/job", "")
	assert.JSONEq(t, `{"a/b":["0",null]}`, rec.Body.String())

	rec = e.do(t, http.MethodPut, "/alpha/job/c%2Fd", `{"queue_id":"0","tags":["x/y"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/alpha/tag/x%2Fy/status", "")
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/a%2Fb/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveJob(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/a", `{"queue_id":"0"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/alpha/job", "").Code)

	rec := e.do(t, http.MethodGet, "/alpha/job/a/from_q/0/to_q/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, api.CodeInvalidTransition, errorCode(t, rec))

	e.clock.Advance(30 * time.Second)
	rec = e.do(t, http.MethodGet, "/alpha/job/a/from_q/0/to_q/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/alpha/status", "")
	assert.JSONEq(t, `{"total_jobs":1,"total_tags":0,"queues":{"0":0,"1":1}}`, rec.Body.String())
}

func TestTags(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/a", `{"queue_id":"0","tags":["T"]}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/b", `{"queue_id":"0","tags":["T"],"data":2}`).Code)

	rec := e.do(t, http.MethodGet, "/alpha/tag/T/status", "")
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/alpha/tag/T", "")
	assert.JSONEq(t, `{
		"a":{"tags":["T"],"data":null,"queues":[["0",0]]},
		"b":{"tags":["T"],"data":2,"queues":[["0",0]]}
	}`, rec.Body.String())

	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/alpha/tag/T", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/alpha/tag/T/status", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/alpha/tag/T", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/alpha/job/a", "").Code)
}

func TestRemoveJobAndClearQueue(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/a", `{"queue_id":"0"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/b", `{"queue_id":"0"}`).Code)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/alpha/job/a", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/alpha/job/a", "").Code)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/alpha/queues/0/clear", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/alpha/queues/9/clear", "").Code)

	rec := e.do(t, http.MethodGet, "/alpha/status", "")
	assert.JSONEq(t, `{"total_jobs":0,"total_tags":0,"queues":{"0":0}}`, rec.Body.String())
}

func TestUpdateConfig(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/alpha/config", `{"default_lease_time": 5, "queue_lease_time": [3, 90]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rlm, ok := e.reg.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, domain.RealmConfig{
		DefaultLeaseTime: 5,
		Queues:           []domain.QueueConfig{{ID: "3", LeaseTime: 90}},
	}, rlm.Config())

	for _, body := range []string{
		`{"default_lease_time": "soon"}`,
		`{"queue_lease_time": [1]}`,
		`{"queue_lease_time": ["1", 2.5]}`,
		`{"default_lease_time": -1}`,
	} {
		rec := e.do(t, http.MethodPost, "/alpha/config", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRegistryRoutes(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/a/job/x", `{"queue_id":"0"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/b/status", "").Code)

	rec := e.do(t, http.MethodGet, "/", "")
	assert.JSONEq(t, `{
		"a":{"total_jobs":1,"total_tags":0,"queues":{"0":1}},
		"b":{"total_jobs":0,"total_tags":0,"queues":{}}
	}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/a/", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/b", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/a/", "").Code)

	rec = e.do(t, http.MethodGet, "/", "")
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestBulkJobs(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/jobs", `{"jobs":[
		{"realm":"a","job_id":"1","queue_id":"0","data":"x","tags":["t"]},
		{"realm":"b","job_id":"2","queue_id":1},
		{"realm":"a","job_id":"1","queue_id":"0","data":"y"},
		{"realm":"a","queue_id":"0"},
		{"realm":"a/b","job_id":"3","queue_id":"0"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res api.BulkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.OK)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, api.CodeConflict, res.Errors[0].Code)
	assert.Equal(t, api.CodeBadRequest, res.Errors[1].Code)
	assert.Equal(t, api.CodeBadRequest, res.Errors[2].Code)

	rec = e.do(t, http.MethodDelete, "/jobs", `{"jobs":[{"realm":"a","job_id":"1"},{"realm":"a","job_id":"1"}]}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, api.CodeNotFound, res.Errors[0].Code)

	rec = e.do(t, http.MethodPost, "/jobs", `[1, 2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPullAcrossRealms(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/a/job/low", `{"queue_id":"1"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/b/job/high", `{"queue_id":"0","data":[1]}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/c/job/other", `{"queue_id":"0"}`).Code)

	rec := e.do(t, http.MethodGet, "/jobs?count=2&realm=a&realm=b", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []domain.Dispatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, domain.Dispatch{Realm: "b", JobID: "high", QueueID: "0", Data: json.RawMessage(`[1]`)}, got[0])
	assert.Equal(t, "low", got[1].JobID)

	rec = e.do(t, http.MethodGet, "/jobs?count=10", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Realm)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := realm.NewRegistry(storage.NewMemoryStore())
	m := metrics.New(reg)
	healthy := true
	srv := api.New(reg, dispatch.New(reg),
		api.WithMetrics(m),
		api.WithReadiness(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("store unreachable")
		}),
	)
	e := &env{h: srv.Handler(), reg: reg}

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "").Code)
	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/readyz", "").Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/alpha/job/j", `{"queue_id":"0"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/alpha/job", "").Code)

	rec := e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `restq_http_requests_total{method="PUT",route="/{realm}/job/{job}",status="200"} 1`)
	assert.Contains(t, body, `restq_jobs_leased_total{queue="0",realm="alpha"} 1`)
	assert.Contains(t, body, `restq_queue_jobs{queue="0",realm="alpha"} 1`)
}

type brokenStore struct{ *storage.MemoryStore }

func (brokenStore) Save(context.Context, string, domain.RealmConfig) error {
	return errors.New("read-only file system")
}

func TestInternalErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	reg := realm.NewRegistry(brokenStore{storage.NewMemoryStore()})
	srv := api.New(reg, dispatch.New(reg), api.WithLogger(zap.New(core)))
	e := &env{h: srv.Handler(), reg: reg}

	rec := e.do(t, http.MethodPut, "/alpha/job/j", `{"queue_id":"0"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, api.CodeInternal, errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "read-only")

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "read-only file system")
}
