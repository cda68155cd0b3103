package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/lvdashuaibi/evermark-sync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const syncPath = "/api/sync-voting"

type fakeSyncer struct {
	evermarkID string
	cycle      *uint64
	blocks     uint64
	payload    *model.VoteCastPayload
	err        error
	panicMsg   string
}

func (f *fakeSyncer) SyncEvermarkVotingData(ctx context.Context, id string, cycle *uint64) (*model.SyncResult, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.evermarkID, f.cycle = id, cycle
	if f.err != nil {
		return nil, f.err
	}
	return &model.SyncResult{Written: true, Message: "evermark voting data synced"}, nil
}

func (f *fakeSyncer) SyncVotingCycleData(ctx context.Context, cycle *uint64) (*model.SyncResult, error) {
	f.cycle = cycle
	if f.err != nil {
		return nil, f.err
	}
	return &model.SyncResult{Written: true, Message: "voting cycle data synced"}, nil
}

func (f *fakeSyncer) SyncRecentVotingEvents(ctx context.Context, blocks uint64) (*model.BackfillResult, error) {
	f.blocks = blocks
	if f.err != nil {
		return nil, f.err
	}
	return &model.BackfillResult{FromBlock: 4000, ToBlock: 5000, Written: 3}, nil
}

func (f *fakeSyncer) IngestVoteCastWebhook(ctx context.Context, p *model.VoteCastPayload) (*model.SyncResult, error) {
	f.payload = p
	if f.err != nil {
		return nil, f.err
	}
	if _, err := service.ValidateVoteCast(p); err != nil {
		return nil, err
	}
	return &model.SyncResult{Written: true, Message: "vote recorded"}, nil
}

type fixedStats struct{ stats *model.CacheStats }

func (f fixedStats) GetCacheStats(ctx context.Context) *model.CacheStats { return f.stats }

func newTestEngine(s *fakeSyncer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(s, fixedStats{stats: &model.CacheStats{TotalCachedEntries: 7, ActiveCycles: 1, CacheHealth: model.CacheHealthy}}, 0, zap.NewNop())
	return NewEngine(h, syncPath, zap.NewNop())
}

func do(t *testing.T, e *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandler_Options(t *testing.T) {
	w := do(t, newTestEngine(&fakeSyncer{}), http.MethodOptions, syncPath, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		w := do(t, newTestEngine(&fakeSyncer{}), m, syncPath, "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, m)
	}
}

func TestHandler_SyncEvermark(t *testing.T) {
	s := &fakeSyncer{}
	w := do(t, newTestEngine(s), http.MethodGet, syncPath+"?action=sync-evermark&evermark_id=42&cycle=3", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "42", s.evermarkID)
	require.NotNil(t, s.cycle)
	assert.Equal(t, uint64(3), *s.cycle)
}

func TestHandler_SyncEvermark_CycleOptional(t *testing.T) {
	s := &fakeSyncer{}
	w := do(t, newTestEngine(s), http.MethodGet, syncPath+"?action=sync-evermark&evermark_id=42", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, s.cycle)
}

func TestHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"missing evermark id", "?action=sync-evermark"},
		{"bad cycle", "?action=sync-evermark&evermark_id=42&cycle=abc"},
		{"negative blocks", "?action=sync-recent&blocks=-1"},
		{"bad cycle on sync-cycle", "?action=sync-cycle&cycle=1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestEngine(&fakeSyncer{}), http.MethodGet, syncPath+tt.target, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Bad Request", decode(t, w)["error"])
		})
	}
}

func TestHandler_UnknownAction(t *testing.T) {
	for _, target := range []string{"?action=nope", ""} {
		w := do(t, newTestEngine(&fakeSyncer{}), http.MethodGet, syncPath+target, "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		body := decode(t, w)
		assert.ElementsMatch(t, []interface{}{"sync-evermark", "sync-cycle", "sync-recent", "stats"}, body["validActions"])
	}
}

func TestHandler_SyncCycle_Unresolved(t *testing.T) {
	s := &fakeSyncer{err: service.ErrCycleUnresolved}
	w := do(t, newTestEngine(s), http.MethodGet, syncPath+"?action=sync-cycle", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, s.cycle)
}

func TestHandler_SyncRecent_DefaultsTo1000(t *testing.T) {
	s := &fakeSyncer{}
	w := do(t, newTestEngine(s), http.MethodGet, syncPath+"?action=sync-recent", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(1000), s.blocks)

	result := decode(t, w)["result"].(map[string]interface{})
	assert.Equal(t, float64(4000), result["fromBlock"])

	do(t, newTestEngine(s), http.MethodGet, syncPath+"?action=sync-recent&blocks=250", "")
	assert.Equal(t, uint64(250), s.blocks)
}

func TestHandler_Stats(t *testing.T) {
	w := do(t, newTestEngine(&fakeSyncer{}), http.MethodGet, syncPath+"?action=stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	stats := decode(t, w)["stats"].(map[string]interface{})
	assert.Equal(t, float64(7), stats["totalCachedEntries"])
	assert.Equal(t, "healthy", stats["cacheHealth"])
	assert.Nil(t, stats["lastSyncTime"])
}

func TestHandler_Webhook(t *testing.T) {
	s := &fakeSyncer{}
	body := `{"type":"vote_cast","evermarkId":"42","userAddress":"0xABC","amount":"100","cycle":3,"blockNumber":4500}`
	w := do(t, newTestEngine(s), http.MethodPost, syncPath, body)
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, s.payload)
	assert.Equal(t, "0xABC", s.payload.UserAddress)
	require.NotNil(t, s.payload.BlockNumber)
	assert.Equal(t, uint64(4500), *s.payload.BlockNumber)
	assert.Nil(t, s.payload.TransactionHash)
}

func TestHandler_Webhook_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"type":`},
		{"wrong type", `{"type":"vote_removed","evermarkId":"42","userAddress":"0xabc","amount":"1","cycle":3}`},
		{"missing cycle", `{"type":"vote_cast","evermarkId":"42","userAddress":"0xabc","amount":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestEngine(&fakeSyncer{}), http.MethodPost, syncPath, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandler_CacheWriteFailureIs500(t *testing.T) {
	s := &fakeSyncer{err: &service.CacheWriteError{Op: "upsert tally", Err: errors.New("connection reset")}}
	w := do(t, newTestEngine(s), http.MethodGet, syncPath+"?action=sync-evermark&evermark_id=42", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decode(t, w)
	assert.Equal(t, "Internal Server Error", body["error"])
	assert.Contains(t, body["message"], "connection reset")
}

func TestHandler_PanicIs500(t *testing.T) {
	s := &fakeSyncer{panicMsg: "boom"}
	w := do(t, newTestEngine(s), http.MethodGet, syncPath+"?action=sync-evermark&evermark_id=42", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "boom", decode(t, w)["message"])
}

func TestEngine_HealthAndMetrics(t *testing.T) {
	e := newTestEngine(&fakeSyncer{})

	w := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = do(t, e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evermark_http_requests_total")
}
