package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/pkg/metrics"
)

// Sink appends an encoded entry to a broadcast channel and returns the
// external id of the appended message. Sinks never edit or retract.
type Sink interface {
	Append(ctx context.Context, channel, text string) (string, error)
}

// IDSource produces strictly increasing, time-sortable transaction ids
type IDSource interface {
	Next() string
}

// Logger encodes change records and delivers them to the sink.
// A nil sink means local-only mode: every transaction is confirmed with no external reference.
type Logger struct {
	sink    Sink
	channel string
	ids     IDSource
	now     func() time.Time
	logger  *slog.Logger
}

// Option customises a Logger
type Option func(*Logger)

// WithClock overrides the transaction timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates an audit logger writing to channel on sink
func NewLogger(sink Sink, channel string, ids IDSource, logger *slog.Logger, opts ...Option) *Logger {
	l := &Logger{
		sink:    sink,
		channel: channel,
		ids:     ids,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LocalOnly reports whether the logger has no sink configured
func (l *Logger) LocalOnly() bool {
	return l.sink == nil
}

// LogChange records a single change with full nested detail
func (l *Logger) LogChange(ctx context.Context, rec models.ChangeRecord) models.Transaction {
	tx := l.begin([]models.ChangeRecord{rec})
	return l.deliver(ctx, tx, EncodeChange(tx.TxID, tx.Timestamp, tx.Changes[0]))
}

// LogBatch records several changes as one summarised transaction
func (l *Logger) LogBatch(ctx context.Context, recs []models.ChangeRecord) models.Transaction {
	tx := l.begin(recs)
	return l.deliver(ctx, tx, EncodeBatch(tx.TxID, tx.Timestamp, tx.Changes))
}

// Log picks the single or batch encoding. It returns false when there is nothing to record.
func (l *Logger) Log(ctx context.Context, recs []models.ChangeRecord) (models.Transaction, bool) {
	switch len(recs) {
	case 0:
		return models.Transaction{}, false
	case 1:
		return l.LogChange(ctx, recs[0]), true
	default:
		return l.LogBatch(ctx, recs), true
	}
}

func (l *Logger) begin(recs []models.ChangeRecord) models.Transaction {
	tx := models.Transaction{
		TxID:      l.ids.Next(),
		Timestamp: l.now(),
		Changes:   make([]models.ChangeRecord, len(recs)),
	}
	for i, rec := range recs {
		rec.TxID = tx.TxID
		tx.Changes[i] = rec
	}
	return tx
}

func (l *Logger) deliver(ctx context.Context, tx models.Transaction, text string) models.Transaction {
	if l.sink == nil {
		tx.Confirmed = true
		metrics.AuditTransactions.WithLabelValues("local").Inc()
		return tx
	}

	log := l.logger.With("tx_id", tx.TxID, "changes", len(tx.Changes), "channel", l.channel)

	externalID, err := l.sink.Append(ctx, l.channel, text)
	if err != nil {
		tx.Err = &models.DeliveryError{Target: "audit:" + l.channel, Err: err}
		metrics.AuditTransactions.WithLabelValues("unconfirmed").Inc()
		log.Warn("Audit entry not delivered, local write proceeds", "error", err)
		return tx
	}

	tx.ExternalMessageID = externalID
	tx.Confirmed = true
	metrics.AuditTransactions.WithLabelValues("confirmed").Inc()
	log.Debug("Audit entry appended", "external_id", externalID)
	return tx
}
