package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"fiscalhub/internal/core/id"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/pkg/logger"
)

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// outboxMaxRetries is how many handler failures park a message as failed.
const outboxMaxRetries = 5

// OutboxMessage is one row of fiscal_outbox.
type OutboxMessage struct {
	ID          id.ID        `db:"id"`
	TenantID    string       `db:"tenant_id"`
	DocumentID  id.ID        `db:"document_id"`
	Event       fiscal.Event `db:"event"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	RetryCount  int          `db:"retry_count"`
	LastError   *string      `db:"last_error"`
	NextRetryAt *time.Time   `db:"next_retry_at"`
	CreatedAt   time.Time    `db:"created_at"`
	PublishedAt *time.Time   `db:"published_at"`
}

// OutboxPublisher implements fiscal.EventPublisher on the fiscal_outbox table.
// The event row commits or rolls back with the document change that caused it.
type OutboxPublisher struct {
	now func() time.Time
}

// NewOutboxPublisher creates a publisher.
func NewOutboxPublisher() *OutboxPublisher {
	return &OutboxPublisher{now: time.Now}
}

// Publish writes the event inside the transaction open in ctx.
func (p *OutboxPublisher) Publish(ctx context.Context, doc *fiscal.FiscalDocument, event fiscal.Event) error {
	txm, err := TxManagerFromContext(ctx)
	if err != nil {
		return err
	}
	t := txm.GetTx(ctx)
	if t == nil {
		return fmt.Errorf("outbox publish requires a transaction")
	}

	at := p.now().UTC()
	body, err := json.Marshal(fiscal.NewWebhookPayload(doc, event, at))
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = t.Exec(ctx, `
		INSERT INTO fiscal_outbox (id, tenant_id, document_id, event, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.New(), doc.TenantID, doc.ID, event, body, OutboxStatusPending, at)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

var _ fiscal.EventPublisher = (*OutboxPublisher)(nil)

// OutboxHandler processes one message. An error schedules a retry.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

func (f OutboxHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error { return f(ctx, msg) }

// OutboxRelay hands pending messages of the tenant database in ctx to a handler.
type OutboxRelay struct {
	batchSize int
	handler   OutboxHandler
}

// NewOutboxRelay creates a relay.
func NewOutboxRelay(batchSize int, handler OutboxHandler) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{batchSize: batchSize, handler: handler}
}

// ProcessBatch claims due messages with FOR UPDATE SKIP LOCKED, so relays of
// several workers never hand the same message out twice, and returns how many
// were published.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	txm, err := TxManagerFromContext(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	err = txm.RunInTransaction(ctx, func(txCtx context.Context) error {
		q := txm.GetQuerier(txCtx)

		var messages []*OutboxMessage
		err := pgxscan.Select(txCtx, q, &messages, `
			SELECT id, tenant_id, document_id, event, payload, status,
			       retry_count, last_error, next_retry_at, created_at, published_at
			FROM fiscal_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			// Handlers get the outer context: their own writes must not join
			// the claiming transaction.
			if herr := r.handler.Handle(ctx, msg); herr != nil {
				logger.Warn(ctx, "outbox message failed", "message_id", msg.ID, "event", msg.Event, "error", herr)
				if err := r.markFailed(txCtx, q, msg, herr); err != nil {
					return err
				}
				continue
			}
			if _, err := q.Exec(txCtx, `
				UPDATE fiscal_outbox SET status = $1, published_at = NOW() WHERE id = $2
			`, OutboxStatusPublished, msg.ID); err != nil {
				return fmt.Errorf("mark outbox message published: %w", err)
			}
			processed++
		}
		return nil
	})
	return processed, err
}

func (r *OutboxRelay) markFailed(ctx context.Context, q Querier, msg *OutboxMessage, cause error) error {
	next := time.Now().UTC().Add(time.Duration(msg.RetryCount+1) * time.Minute)
	_, err := q.Exec(ctx, `
		UPDATE fiscal_outbox
		SET retry_count = retry_count + 1,
		    last_error = $1,
		    next_retry_at = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
		WHERE id = $5
	`, cause.Error(), next, outboxMaxRetries, OutboxStatusFailed, msg.ID)
	if err != nil {
		return fmt.Errorf("update failed outbox message: %w", err)
	}
	return nil
}

// PurgePublished deletes published messages older than age.
func (r *OutboxRelay) PurgePublished(ctx context.Context, age time.Duration) (int64, error) {
	txm, err := TxManagerFromContext(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := txm.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM fiscal_outbox WHERE status = $1 AND published_at < $2
	`, OutboxStatusPublished, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

// WebhookHandler relays outbox events to the webhook dispatcher. Delivery
// failures are the dispatcher's concern; only an undecodable payload fails.
func WebhookHandler(d *fiscal.WebhookDispatcher) OutboxHandler {
	return OutboxHandlerFunc(func(ctx context.Context, msg *OutboxMessage) error {
		var p fiscal.WebhookPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode outbox payload: %w", err)
		}
		report := d.DispatchPayload(ctx, p)
		logger.Debug(ctx, "outbox event relayed",
			"event", p.Event, "document_id", p.DocumentID,
			"attempted", report.Attempted, "delivered", report.Delivered)
		return nil
	})
}
