package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

// writeError maps the core error taxonomy onto HTTP responses. Transient
// classes come back retryable (409/500); integrity violations are never
// masked as plain server errors.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		verr *ledger.ValidationError
		rerr *ledger.RangeError
		ierr *ledger.IntegrityError
		serr *ledger.StorageError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.As(err, &rerr):
		c.JSON(http.StatusBadRequest, gin.H{"error": rerr.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ledger.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict, retry the request"})
	case errors.As(err, &ierr):
		logger.Error("integrity violation surfaced via API", zap.Error(ierr))
		c.JSON(http.StatusConflict, gin.H{
			"error":         "chain integrity violation",
			"details":       ierr.Msg,
			"entry_seq":     ierr.EntrySeq,
			"checkpoint_id": ierr.CheckpointID,
		})
	case errors.As(err, &serr):
		logger.Error("storage failure", zap.Error(serr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure, retry the request"})
	default:
		logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
