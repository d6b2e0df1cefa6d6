package fiscal_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/id"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/storage/postgres"
)

const webhooksTable = "fiscal_webhook_subscriptions"

var webhookColumns = postgres.ExtractDBColumns[fiscal.WebhookSubscription]()

// WebhookRepo implements fiscal.WebhookRepository.
type WebhookRepo struct{}

func NewWebhookRepo() *WebhookRepo { return &WebhookRepo{} }

// eventNames converts events to a text[] argument.
func eventNames(events []fiscal.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func (r *WebhookRepo) Create(ctx context.Context, sub *fiscal.WebhookSubscription) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	data := only(postgres.StructToMap(sub), webhookColumns)
	data["events"] = eventNames(sub.Events)

	sql, args, err := builder().Insert(webhooksTable).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		if uniqueConstraint(err) != "" {
			return apperror.NewDuplicate("webhook_subscription", "url", sub.URL)
		}
		return fmt.Errorf("insert webhook subscription: %w", err)
	}
	return nil
}

func (r *WebhookRepo) selectSubs(ctx context.Context, where squirrel.Sqlizer) ([]*fiscal.WebhookSubscription, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	sql, args, err := builder().Select(webhookColumns...).From(webhooksTable).
		Where(where).OrderBy("created_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var subs []*fiscal.WebhookSubscription
	if err := pgxscan.Select(ctx, q, &subs, sql, args...); err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	return subs, nil
}

func (r *WebhookRepo) GetByID(ctx context.Context, subID id.ID) (*fiscal.WebhookSubscription, error) {
	subs, err := r.selectSubs(ctx, squirrel.Eq{"id": subID})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, apperror.NewNotFound("webhook_subscription", subID.String())
	}
	return subs[0], nil
}

func (r *WebhookRepo) List(ctx context.Context, tenantID string) ([]*fiscal.WebhookSubscription, error) {
	return r.selectSubs(ctx, squirrel.Eq{"tenant_id": tenantID})
}

func (r *WebhookRepo) ListActive(ctx context.Context, tenantID string, event fiscal.Event) ([]*fiscal.WebhookSubscription, error) {
	return r.selectSubs(ctx, squirrel.And{
		squirrel.Eq{"tenant_id": tenantID, "active": true},
		squirrel.Expr("? = ANY(events)", string(event)),
	})
}

func (r *WebhookRepo) exec(ctx context.Context, subID id.ID, ub squirrel.UpdateBuilder) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	sql, args, err := ub.Set("updated_at", squirrel.Expr("NOW()")).Where(squirrel.Eq{"id": subID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update webhook subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("webhook_subscription", subID.String())
	}
	return nil
}

func (r *WebhookRepo) Delete(ctx context.Context, subID id.ID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	sql, args, err := builder().Delete(webhooksTable).Where(squirrel.Eq{"id": subID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete webhook subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("webhook_subscription", subID.String())
	}
	return nil
}

func (r *WebhookRepo) RecordSuccess(ctx context.Context, subID id.ID) error {
	return r.exec(ctx, subID, builder().Update(webhooksTable).
		Set("failure_count", 0).
		Set("last_error", "").
		Set("last_delivery_at", squirrel.Expr("NOW()")))
}

func (r *WebhookRepo) RecordFailure(ctx context.Context, subID id.ID, threshold int, lastError string) (int, bool, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, false, err
	}
	sql, args, err := recordFailureSQL(subID, threshold, lastError)
	if err != nil {
		return 0, false, fmt.Errorf("build update: %w", err)
	}
	var (
		failures int
		active   bool
	)
	if err := q.QueryRow(ctx, sql, args...).Scan(&failures, &active); err != nil {
		if pgxscan.NotFound(err) {
			return 0, false, apperror.NewNotFound("webhook_subscription", subID.String())
		}
		return 0, false, fmt.Errorf("record webhook failure: %w", err)
	}
	return failures, !active, nil
}

// recordFailureSQL increments the counter and flips active in one statement,
// so concurrent deliveries cannot lose an increment.
func recordFailureSQL(subID id.ID, threshold int, lastError string) (string, []any, error) {
	return builder().Update(webhooksTable).
		Set("failure_count", squirrel.Expr("failure_count + 1")).
		Set("active", squirrel.Expr("CASE WHEN failure_count + 1 >= ? THEN false ELSE active END", threshold)).
		Set("last_error", lastError).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": subID}).
		Suffix("RETURNING failure_count, active").
		ToSql()
}

func (r *WebhookRepo) Reactivate(ctx context.Context, subID id.ID) error {
	return r.exec(ctx, subID, builder().Update(webhooksTable).
		Set("active", true).
		Set("failure_count", 0).
		Set("last_error", ""))
}

var _ fiscal.WebhookRepository = (*WebhookRepo)(nil)
