package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/veritas-audit/veritas/internal/checkpoint"
	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

// CheckpointHandler exposes checkpoint sealing and inspection routes.
// Sealing requires an operator token; reads are open.
type CheckpointHandler struct {
	builder *checkpoint.Builder
	store   checkpoint.Store
	entries ledger.Reader
	tokens  *OperatorTokenIssuer
	logger  *zap.Logger
}

// NewCheckpointHandler creates a CheckpointHandler.
func NewCheckpointHandler(builder *checkpoint.Builder, store checkpoint.Store, entries ledger.Reader, tokens *OperatorTokenIssuer, logger *zap.Logger) *CheckpointHandler {
	return &CheckpointHandler{builder: builder, store: store, entries: entries, tokens: tokens, logger: logger}
}

// Register mounts the checkpoint routes on the given router group.
func (h *CheckpointHandler) Register(rg *gin.RouterGroup) {
	cp := rg.Group("/checkpoints")
	{
		cp.GET("", h.List)
		cp.GET("/:id", h.Get)
		cp.POST("", RequireOperator(h.tokens), h.Build)
	}
}

type buildRequest struct {
	// From and To bound the range to seal. When both are zero the next
	// unsealed range [previous checkpoint + 1, current tail] is used.
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Build handles POST /checkpoints.
func (h *CheckpointHandler) Build(c *gin.Context) {
	ctx := c.Request.Context()

	var req buildRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	from, to := req.From, req.To
	if from == 0 && to == 0 {
		var err error
		if from, to, err = h.nextUnsealedRange(c); err != nil {
			writeError(c, h.logger, err)
			return
		}
		if from > to {
			c.JSON(http.StatusConflict, gin.H{"error": "no unsealed entries to checkpoint"})
			return
		}
	}

	cp, err := h.builder.Build(ctx, from, to)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

// nextUnsealedRange computes [last sealed + 1, tail].
func (h *CheckpointHandler) nextUnsealedRange(c *gin.Context) (int64, int64, error) {
	ctx := c.Request.Context()

	from := int64(1)
	latest, err := h.store.Latest(ctx)
	switch err {
	case nil:
		from = latest.LastSeq + 1
	case ledger.ErrNotFound:
	default:
		return 0, 0, err
	}

	tail, _, err := h.entries.Tail(ctx)
	if err != nil {
		return 0, 0, err
	}
	return from, tail, nil
}

// List handles GET /checkpoints.
func (h *CheckpointHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	cps, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": cps})
}

// Get handles GET /checkpoints/:id.
func (h *CheckpointHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}

	cp, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}
