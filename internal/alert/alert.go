// Package alert delivers tamper evidence to administrators. Integrity
// violations found by the verifier are fanned out to the configured
// channels; the ledger core itself never swallows or repairs them.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

// Alert describes a single integrity violation.
type Alert struct {
	ID           uuid.UUID `json:"id"`
	Time         time.Time `json:"time"`
	EntrySeq     int64     `json:"entry_seq,omitempty"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Details      string    `json:"details"`
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// DeliveryMetricFunc is an optional callback recording delivery outcomes.
type DeliveryMetricFunc func(success bool)

// Dispatcher fans an alert out to every configured notifier. Delivery is
// best-effort per channel; a failed channel never suppresses the others.
type Dispatcher struct {
	notifiers  []Notifier
	timeout    time.Duration
	onDelivery DeliveryMetricFunc
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher over the given notifiers.
func NewDispatcher(notifiers []Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   10 * time.Second,
		logger:    logger,
	}
}

// SetDeliveryMetric configures the delivery metric callback.
func (d *Dispatcher) SetDeliveryMetric(fn DeliveryMetricFunc) {
	d.onDelivery = fn
}

// TamperAlert builds an Alert from an integrity error and dispatches it.
// Shaped to plug straight into verify.Verifier.SetTamperAlert.
func (d *Dispatcher) TamperAlert(ierr *ledger.IntegrityError) {
	d.Dispatch(context.Background(), Alert{
		ID:           uuid.New(),
		Time:         time.Now().UTC(),
		EntrySeq:     ierr.EntrySeq,
		CheckpointID: ierr.CheckpointID,
		Details:      ierr.Msg,
	})
}

// Dispatch delivers an alert to every notifier within the dispatch timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	for _, n := range d.notifiers {
		err := n.Notify(ctx, a)
		if d.onDelivery != nil {
			d.onDelivery(err == nil)
		}
		if err != nil {
			d.logger.Error("alert delivery failed",
				zap.String("alert_id", a.ID.String()),
				zap.Error(err),
			)
		}
	}
}
