package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/lvdashuaibi/evermark-sync/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	ActionSyncEvermark = "sync-evermark"
	ActionSyncCycle    = "sync-cycle"
	ActionSyncRecent   = "sync-recent"
	ActionStats        = "stats"
)

var validActions = []string{ActionSyncEvermark, ActionSyncCycle, ActionSyncRecent, ActionStats}

// Syncer is the set of sync operations exposed over HTTP.
type Syncer interface {
	SyncEvermarkVotingData(ctx context.Context, evermarkID string, cycle *uint64) (*model.SyncResult, error)
	SyncVotingCycleData(ctx context.Context, cycle *uint64) (*model.SyncResult, error)
	SyncRecentVotingEvents(ctx context.Context, blockRange uint64) (*model.BackfillResult, error)
	IngestVoteCastWebhook(ctx context.Context, p *model.VoteCastPayload) (*model.SyncResult, error)
}

type StatsSource interface {
	GetCacheStats(ctx context.Context) *model.CacheStats
}

type SyncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Written bool   `json:"written"`
}

type BackfillResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Result  *model.BackfillResult `json:"result"`
}

type StatsResponse struct {
	Success bool              `json:"success"`
	Stats   *model.CacheStats `json:"stats"`
}

type InvalidActionResponse struct {
	Error        string   `json:"error"`
	Message      string   `json:"message"`
	ValidActions []string `json:"validActions"`
}

// Handler serves the sync endpoint: GET dispatches on ?action=, POST ingests
// a vote_cast webhook.
type Handler struct {
	sync          Syncer
	stats         StatsSource
	defaultBlocks uint64
	logger        *zap.Logger
}

func NewHandler(sync Syncer, stats StatsSource, defaultBlocks uint64, logger *zap.Logger) *Handler {
	if defaultBlocks == 0 {
		defaultBlocks = service.DefaultRecentBlocks
	}
	return &Handler{
		sync:          sync,
		stats:         stats,
		defaultBlocks: defaultBlocks,
		logger:        logger.With(zap.String("component", "http")),
	}
}

// NewEngine builds the gin engine with the shared middleware, health and
// metrics routes, and the sync endpoint mounted at syncPath.
func NewEngine(h *Handler, syncPath string, logger *zap.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(Recovery(logger), Logging(logger), Instrument(), CORS())

	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.Any(syncPath, h.Serve)
	return engine
}

func (h *Handler) Serve(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.Status(http.StatusOK)
	case http.MethodGet:
		h.dispatch(c)
	case http.MethodPost:
		h.webhook(c)
	default:
		c.Header("Allow", "GET, POST, OPTIONS")
		abortWithError(c, http.StatusMethodNotAllowed, "method "+c.Request.Method+" not allowed")
	}
}

func (h *Handler) dispatch(c *gin.Context) {
	switch action := c.Query("action"); action {
	case ActionSyncEvermark:
		h.syncEvermark(c)
	case ActionSyncCycle:
		h.syncCycle(c)
	case ActionSyncRecent:
		h.syncRecent(c)
	case ActionStats:
		c.JSON(http.StatusOK, StatsResponse{Success: true, Stats: h.stats.GetCacheStats(c.Request.Context())})
	default:
		c.JSON(http.StatusBadRequest, InvalidActionResponse{
			Error:        "Invalid action",
			Message:      "unknown or missing action " + `"` + action + `"`,
			ValidActions: validActions,
		})
	}
}

func (h *Handler) syncEvermark(c *gin.Context) {
	evermarkID := c.Query("evermark_id")
	if evermarkID == "" {
		abortWithError(c, http.StatusBadRequest, "evermark_id is required")
		return
	}
	cycle, err := parseUint(c, "cycle")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.sync.SyncEvermarkVotingData(c.Request.Context(), evermarkID, cycle)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{Success: true, Message: res.Message, Written: res.Written})
}

func (h *Handler) syncCycle(c *gin.Context) {
	cycle, err := parseUint(c, "cycle")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.sync.SyncVotingCycleData(c.Request.Context(), cycle)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{Success: true, Message: res.Message, Written: res.Written})
}

func (h *Handler) syncRecent(c *gin.Context) {
	blocks, err := parseUint(c, "blocks")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	blockRange := h.defaultBlocks
	if blocks != nil && *blocks > 0 {
		blockRange = *blocks
	}

	res, err := h.sync.SyncRecentVotingEvents(c.Request.Context(), blockRange)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, BackfillResponse{Success: true, Message: "recent voting events synced", Result: res})
}

func (h *Handler) webhook(c *gin.Context) {
	var payload model.VoteCastPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		abortWithError(c, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	res, err := h.sync.IngestVoteCastWebhook(c.Request.Context(), &payload)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{Success: true, Message: res.Message, Written: res.Written})
}

// fail maps service errors onto status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err), errors.Is(err, service.ErrCycleUnresolved):
		abortWithError(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("sync request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, err.Error())
	}
}
