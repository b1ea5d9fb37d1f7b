package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ingestq/internal/cluster"
	"ingestq/internal/gateway"
	"ingestq/internal/lockbox"
	"ingestq/internal/queue"
	"ingestq/internal/runner"
	"ingestq/internal/storage"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	lb := lockbox.New(store)
	gw := gateway.New(store, lb, cluster.NewMetaStore(), cluster.NewLocalDeepStorage(t.TempDir()))
	r := runner.New(runner.Options{Slots: 2, WorkDir: t.TempDir()}, gw, nil, nil, nil)
	q := queue.New(store, lb, r, queue.Options{SyncInterval: 50 * time.Millisecond})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	router := gin.New()
	New(q).RegisterRoutes(router)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const noopBody = `{
	"id": "noop1",
	"data_source": "foo",
	"type": "noop",
	"interval": "2010-01-01/P1D",
	"noop": {}
}`

func TestSubmitTask(t *testing.T) {
	router := newTestServer(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/tasks", noopBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.TaskID != "noop1" {
		t.Fatalf("response = %s, err = %v", rec.Body.String(), err)
	}

	// Re-submitting the same id conflicts.
	if rec := doJSON(router, http.MethodPost, "/api/v1/tasks", noopBody); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	router := newTestServer(t)
	if rec := doJSON(router, http.MethodPost, "/api/v1/tasks", "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitRejectsInvalidDefinition(t *testing.T) {
	router := newTestServer(t)
	body := `{"id": "t1", "type": "kill", "interval": "2010-01-01/P1D", "kill": {}}`
	if rec := doJSON(router, http.MethodPost, "/api/v1/tasks", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing data source must be rejected, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	router := newTestServer(t)
	if rec := doJSON(router, http.MethodPost, "/api/v1/tasks", noopBody); rec.Code != http.StatusCreated {
		t.Fatalf("submit failed: %d", rec.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := doJSON(router, http.MethodGet, "/api/v1/tasks/noop1/status", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d", rec.Code)
		}
		var resp statusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Complete {
			if resp.Code != "SUCCESS" {
				t.Fatalf("unexpected terminal status: %+v", resp)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	router := newTestServer(t)
	if rec := doJSON(router, http.MethodGet, "/api/v1/tasks/ghost/status", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := doJSON(router, http.MethodGet, "/api/v1/tasks/ghost/log", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("log status = %d", rec.Code)
	}
	if rec := doJSON(router, http.MethodPost, "/api/v1/tasks/ghost/shutdown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("shutdown status = %d", rec.Code)
	}
}

func TestShutdownEndpoint(t *testing.T) {
	router := newTestServer(t)
	body := `{
		"id": "sleeper",
		"data_source": "foo",
		"type": "noop",
		"interval": "2010-01-01/P1D",
		"noop": {"run_duration": 100000000}
	}`
	if rec := doJSON(router, http.MethodPost, "/api/v1/tasks", body); rec.Code != http.StatusCreated {
		t.Fatalf("submit failed: %d", rec.Code)
	}
	if rec := doJSON(router, http.MethodPost, "/api/v1/tasks/sleeper/shutdown", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("shutdown = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t)
	if rec := doJSON(router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}
