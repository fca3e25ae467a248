//go:build unit

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panther-labs/rules-engine/internal/api"
	"github.com/panther-labs/rules-engine/internal/dispatch"
	"github.com/panther-labs/rules-engine/pkg/models"
)

type fakeBatchRunner struct {
	stats models.IngestStats
	err   error
}

func (f *fakeBatchRunner) Run(ctx context.Context, envelope models.Envelope) (models.IngestStats, error) {
	return f.stats, f.err
}

type fakeEngine struct {
	lastRefresh     time.Time
	logTypes, rules int
	reloadErr       error
	reloadCallCount int
}

func (f *fakeEngine) LastRefresh() time.Time { return f.lastRefresh }
func (f *fakeEngine) RuleCount() (int, int)  { return f.logTypes, f.rules }
func (f *fakeEngine) ReloadNow() error       { f.reloadCallCount++; return f.reloadErr }

type fakeBuffer struct {
	size, groups int
}

func (f *fakeBuffer) Size() int       { return f.size }
func (f *fakeBuffer) GroupCount() int { return f.groups }

func setupTestRouter() (*gin.Engine, *fakeEngine, *fakeBuffer, *fakeBatchRunner) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	engine := &fakeEngine{lastRefresh: time.Now(), logTypes: 2, rules: 5}
	buf := &fakeBuffer{size: 1024, groups: 3}
	runner := &fakeBatchRunner{stats: models.IngestStats{ObjectsProcessed: 1}}

	handlers := api.NewHandlers(dispatch.New(runner), engine, buf)
	handlers.SetupRoutes(router)

	return router, engine, buf, runner
}

func TestHandlers_Health(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response api.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
}

func TestHandlers_GetMetrics(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1/system/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response api.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	data := response.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["indexed_log_types"])
	assert.Equal(t, float64(5), data["indexed_rules"])
	assert.Equal(t, float64(1024), data["buffer_bytes"])
}

func TestHandlers_ReloadRules(t *testing.T) {
	router, engine, _, _ := setupTestRouter()

	req, _ := http.NewRequest("POST", "/api/v1/rules/reload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, engine.reloadCallCount)
}

func TestHandlers_ReloadRules_Failure(t *testing.T) {
	router, engine, _, _ := setupTestRouter()
	engine.reloadErr = assert.AnError

	req, _ := http.NewRequest("POST", "/api/v1/rules/reload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandlers_GetRuleTemplate(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1/rules/template", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_Analyze_RoutesToBatch(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	body := []byte(`{"Records":[{
		"body": "{\"Records\":[{\"s3\":{\"bucket\":{\"name\":\"b\"},\"object\":{\"key\":\"k\"}}}]}",
		"messageAttributes": {"id": {"stringValue": "AWS.CloudTrail"}}
	}]}`)
	req, _ := http.NewRequest("POST", "/api/v1/analyze", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response api.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
}

func TestHandlers_Analyze_InvalidPayload(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	req, _ := http.NewRequest("POST", "/api/v1/analyze", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
