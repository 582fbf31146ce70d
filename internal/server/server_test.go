package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mid "github.com/graphcrawl/backend/internal/server/middleware"
	"github.com/graphcrawl/backend/internal/storage"
	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/metrics"
	"github.com/graphcrawl/backend/pkg/store"
)

type fakeGraphs struct {
	rows      []common.ResultRow
	docs      []map[string]any
	err       error
	lastTerm  string
	lastLimit int
}

func (f *fakeGraphs) SaveGraph(context.Context, common.Graph) error { return nil }

func (f *fakeGraphs) Neighbors(_ context.Context, id string) ([]common.ResultRow, error) {
	return f.rows, f.err
}

func (f *fakeGraphs) Search(_ context.Context, term string, limit int) ([]map[string]any, error) {
	f.lastTerm, f.lastLimit = term, limit
	return f.docs, f.err
}

type fakePublisher struct {
	mu     sync.Mutex
	queues []string
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, queueName string, data []byte, _ amqp091.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.queues = append(p.queues, queueName)
	p.bodies = append(p.bodies, data)
	return nil
}

type fakeRuns struct {
	runs map[string]store.Run
}

func (f *fakeRuns) CreateRun(_ context.Context, id string, terms []string) error {
	f.runs[id] = store.Run{ID: id, Terms: terms, Status: store.RunQueued}
	return nil
}
func (f *fakeRuns) MarkRunning(context.Context, string) error { return nil }
func (f *fakeRuns) RequeueRun(context.Context, string) error  { return nil }
func (f *fakeRuns) FinishRun(context.Context, string, store.RunStatus, []byte, string, string) error {
	return nil
}
func (f *fakeRuns) GetRun(_ context.Context, id string) (store.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return r, nil
}
func (f *fakeRuns) StaleRuns(context.Context, time.Duration) ([]store.Run, error) { return nil, nil }

type fakeSnapshots struct {
	snaps map[string]storage.Snapshot
}

func (f *fakeSnapshots) GetSnapshot(_ context.Context, id string) (storage.Snapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return storage.Snapshot{}, storage.ErrSnapshotNotFound
	}
	return s, nil
}

func (f *fakeSnapshots) DownloadLink(_ context.Context, id, _ string) (string, error) {
	return "https://s3.local/" + storage.SnapshotKey(id), nil
}

type envelope struct {
	Response int             `json:"response"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
}

func do(t *testing.T, app *mid.App, method, target, contentType, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	e := New(app)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func newApp() (*mid.App, *fakeGraphs, *fakePublisher, *fakeRuns) {
	graphs := &fakeGraphs{}
	pub := &fakePublisher{}
	runs := &fakeRuns{runs: map[string]store.Run{}}
	return &mid.App{
		Graphs:     graphs,
		Runs:       runs,
		Queue:      pub,
		Metrics:    metrics.NewRegistry(),
		MaxRecords: 100,
	}, graphs, pub, runs
}

func TestHealth(t *testing.T) {
	app, _, _, _ := newApp()
	rec, _ := do(t, app, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSuggestions_SearchesAndQueuesCrawl(t *testing.T) {
	app, graphs, pub, runs := newApp()
	graphs.docs = []map[string]any{{"_id": "SearchTerm/graphs", "description": "Search term used to search blogs"}}

	form := url.Values{"searchterms": {"graphs"}}.Encode()
	rec, env := do(t, app, http.MethodPost, "/api/suggestions", "application/x-www-form-urlencoded", form)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 200, env.Response)
	assert.Equal(t, "Search for graphs resulted in 1 items", env.Message)
	assert.Equal(t, "graphs", graphs.lastTerm)
	assert.Equal(t, []string{"crawl_queue"}, pub.queues)
	assert.Len(t, runs.runs, 1)
}

func TestSuggestions_QueueFailureDoesNotFailSearch(t *testing.T) {
	app, _, pub, _ := newApp()
	pub.err = errors.New("channel closed")

	rec, env := do(t, app, http.MethodPost, "/api/suggestions", "application/json", `{"searchterms":"graphs"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Search for graphs resulted in 0 items", env.Message)
}

func TestSuggestions_MissingTerm(t *testing.T) {
	app, _, _, _ := newApp()
	rec, env := do(t, app, http.MethodPost, "/api/suggestions", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 400, env.Response)
}

func TestNeighbors_TransformsRows(t *testing.T) {
	app, graphs, _, _ := newApp()
	graphs.rows = []common.ResultRow{
		{V: map[string]any{"_id": "A/1", "_key": "1", "_rev": "r", "name": "Ann"}},
		{
			V: map[string]any{"_id": "B/2", "_key": "2", "_rev": "r", "name": "Bob"},
			E: map[string]any{"_id": "Knows/9", "_key": "9", "_rev": "r", "_from": "A/1", "_to": "B/2"},
		},
		{E: map[string]any{"_id": "Knows/10", "_from": "A/1", "_to": "C/3"}},
	}

	rec, env := do(t, app, http.MethodPost, "/api/neighbors", "application/json", `{"nodekey":"A/1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2 neighbors found for A/1", env.Message)

	var g common.Graph
	require.NoError(t, json.Unmarshal(env.Data, &g))
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 2)
	assert.Equal(t, "A/1", g.Nodes[0].ID)
	assert.Equal(t, common.Edge{Source: "A/1", Target: "B/2", Label: "Knows"}, g.Edges[0])
	assert.NotContains(t, g.Nodes[0].Attributes, "_rev")
	assert.Len(t, env.Warnings, 1)
}

func TestNeighbors_StoreError(t *testing.T) {
	app, graphs, _, _ := newApp()
	graphs.err = errors.New("db down")
	rec, _ := do(t, app, http.MethodPost, "/api/neighbors", "application/json", `{"nodekey":"A/1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateCrawl(t *testing.T) {
	app, _, pub, runs := newApp()
	rec, env := do(t, app, http.MethodPost, "/api/crawls", "application/json", `{"terms":["d3","graphs"],"max_records":20}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var data struct {
		CorrelationID string   `json:"correlation_id"`
		Terms         []string `json:"terms"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.CorrelationID)
	assert.Equal(t, []string{"d3 graphs", "d3", "graphs"}, data.Terms)
	assert.Contains(t, runs.runs, data.CorrelationID)

	require.Len(t, pub.bodies, 1)
	var msg struct {
		MaxRecords int `json:"max_records"`
	}
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, 20, msg.MaxRecords)
}

func TestCreateCrawl_Validation(t *testing.T) {
	app, _, _, _ := newApp()
	for _, body := range []string{`{}`, `{"terms":[]}`, `{"terms":[""]}`, `{"terms":["a"],"max_records":-4}`} {
		rec, _ := do(t, app, http.MethodPost, "/api/crawls", "application/json", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGetCrawl(t *testing.T) {
	app, _, _, runs := newApp()
	runs.runs["queued1"] = store.Run{ID: "queued1", Status: store.RunQueued}
	runs.runs["done1"] = store.Run{ID: "done1", Status: store.RunDone}
	app.Snapshots = &fakeSnapshots{snaps: map[string]storage.Snapshot{
		"done1": {ID: "done1", Graph: common.Graph{Nodes: []common.Node{{ID: "mediumcom", Kind: common.NodeKindSite}}}},
	}}

	rec, env := do(t, app, http.MethodGet, "/api/crawls/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, app, http.MethodGet, "/api/crawls/queued1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Crawl queued", env.Message)

	rec, env = do(t, app, http.MethodGet, "/api/crawls/done1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Graph common.Graph `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Graph.Nodes, 1)

	rec, env = do(t, app, http.MethodGet, "/api/crawls/done1?download=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "crawls/done1.json")
}

func TestMetricsEndpoint(t *testing.T) {
	app, _, _, _ := newApp()
	do(t, app, http.MethodGet, "/health", "", "")

	e := New(app)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "graphcrawl_http_requests_total")
}
