package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

// maxRangeRead caps how many entries a single range read may return.
const maxRangeRead = 1000

// EventHandler exposes the write entry point and read-only ledger routes.
type EventHandler struct {
	recorder *ledger.Recorder
	reader   ledger.Reader
	logger   *zap.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(recorder *ledger.Recorder, reader ledger.Reader, logger *zap.Logger) *EventHandler {
	return &EventHandler{recorder: recorder, reader: reader, logger: logger}
}

// Register mounts the event and ledger routes on the given router group.
func (h *EventHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/events", h.Submit)
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/entries", h.ListRange)
		l.GET("/entries/:seq", h.GetEntry)
	}
}

// Submit handles POST /events — the only write entry point of the core.
func (h *EventHandler) Submit(c *gin.Context) {
	var ev ledger.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event body: " + err.Error()})
		return
	}

	entry, err := h.recorder.Submit(c.Request.Context(), ev)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// Overview handles GET /ledger — entry count and current tail.
func (h *EventHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.reader.Len(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	seq, hash, err := h.reader.Tail(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":   count,
		"tail_seq":  seq,
		"tail_hash": hash,
		"algorithm": ledger.HashAlgorithm,
	})
}

// GetEntry handles GET /ledger/entries/:seq.
func (h *EventHandler) GetEntry(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}

	entry, err := h.reader.Entry(c.Request.Context(), seq)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListRange handles GET /ledger/entries?from=&to=.
func (h *EventHandler) ListRange(c *gin.Context) {
	from, err1 := strconv.ParseInt(c.Query("from"), 10, 64)
	to, err2 := strconv.ParseInt(c.Query("to"), 10, 64)
	if err1 != nil || err2 != nil || from < 1 || to < from {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must form a valid range"})
		return
	}
	if to-from+1 > maxRangeRead {
		c.JSON(http.StatusBadRequest, gin.H{"error": "range too large"})
		return
	}

	entries, err := h.reader.Range(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
