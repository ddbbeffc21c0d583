// Package audit implements the relay's append-only audit trail (spec.md
// §3 "Audit record", §4.7): an async, buffered writer for relay_audit_log,
// and a mesh-audit sink client for the cross-service capability events
// shared with the management server.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the outcome recorded for a single audit entry (spec.md §3).
type Status string

const (
	StatusDeliveredWS       Status = "delivered_ws"
	StatusDeliveredCallback Status = "delivered_callback"
	StatusQueued            Status = "queued"
	StatusRateLimited        Status = "rate_limited"
	StatusInvalidCapability Status = "invalid_capability"
	StatusInvalidDestination Status = "invalid_destination"
	StatusError              Status = "error"
)

// Entry is a single relay_audit_log row. Never carries payload bytes
// (spec.md §8 invariant 6).
type Entry struct {
	Timestamp    time.Time
	From         string
	To           string
	Size         int
	Status       Status
	ErrorMessage string
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered audit log writer: entries are enqueued
// non-blockingly and flushed in batches by a background goroutine, the
// same shape as the teacher's internal/audit.Writer, minus the
// multi-tenant schema routing this single-tenant relay has no use for.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewWriter creates an audit Writer. Call Start to begin processing.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background flush loop in a goroutine and returns
// immediately. The loop exits when ctx is canceled (after draining and
// flushing any remaining buffered entries) or when Close is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for the background loop to finish flushing.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an entry for async writing. Never blocks the caller; if the
// buffer is full the entry is dropped and a warning is logged (audit
// durability is best-effort, not on the request's critical path).
func (w *Writer) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case w.entries <- e:
	default:
		w.logger.Warn("audit log buffer full, dropping entry", "from", e.From, "to", e.To, "status", e.Status)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Error("acquiring connection for audit flush", "error", err)
		return
	}
	defer conn.Release()

	for _, e := range entries {
		_, err := conn.Exec(ctx, `INSERT INTO relay_audit_log (ts, from_id, to_id, size, status, error_message)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Timestamp, e.From, e.To, e.Size, string(e.Status), nullIfEmpty(e.ErrorMessage))
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err, "from", e.From, "to", e.To, "status", e.Status)
		}
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// LogRevocation implements revocation.AuditSink: it records a revocation
// outcome as a relay_audit_log row with the capability id carried in the
// "to" column slot, since revocations have no message recipient.
func (w *Writer) LogRevocation(ctx context.Context, capabilityID, revokedBy, reason string) {
	w.Log(Entry{
		From:         revokedBy,
		To:           capabilityID,
		Status:       Status("revoked"),
		ErrorMessage: reason,
	})
}
