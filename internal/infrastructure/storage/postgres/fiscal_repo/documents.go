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

const documentsTable = "fiscal_documents"

var documentColumns = postgres.ExtractDBColumns[fiscal.FiscalDocument]()

// DocumentRepo implements fiscal.DocumentRepository. Contingency payloads and
// raw provider answers are compressed at rest by codec.
type DocumentRepo struct {
	codec *postgres.Codec
}

// NewDocumentRepo creates the repository.
func NewDocumentRepo(codec *postgres.Codec) *DocumentRepo {
	return &DocumentRepo{codec: codec}
}

func (r *DocumentRepo) row(doc *fiscal.FiscalDocument) map[string]any {
	data := postgres.StructToMap(doc)
	data["contingency_payload"] = r.codec.Encode(doc.ContingencyPayload)
	data["last_response"] = r.codec.Encode(doc.LastResponse)
	return data
}

func (r *DocumentRepo) decode(doc *fiscal.FiscalDocument) error {
	var err error
	if doc.ContingencyPayload, err = r.codec.Decode(doc.ContingencyPayload); err != nil {
		return err
	}
	doc.LastResponse, err = r.codec.Decode(doc.LastResponse)
	return err
}

// Create inserts doc. The unique keys are (tenant_id, reference) and
// (tenant_id, family, series, number).
func (r *DocumentRepo) Create(ctx context.Context, doc *fiscal.FiscalDocument) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	sql, args, err := builder().Insert(documentsTable).SetMap(only(r.row(doc), documentColumns)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		switch uniqueConstraint(err) {
		case "":
			return fmt.Errorf("insert fiscal document: %w", err)
		case "uq_fiscal_documents_reference":
			return apperror.NewDuplicate("fiscal_document", "reference", doc.Reference)
		default:
			return apperror.NewDuplicate("fiscal_document", "number",
				fmt.Sprintf("%s/%s/%d", doc.Family, doc.Series, doc.Number))
		}
	}
	return nil
}

// Update overwrites the mutable columns of doc.
func (r *DocumentRepo) Update(ctx context.Context, doc *fiscal.FiscalDocument) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	data := only(r.row(doc), documentColumns,
		"id", "tenant_id", "kind", "family", "series", "number", "reference", "created_at", "version")
	sql, args, err := builder().Update(documentsTable).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": doc.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update fiscal document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("fiscal_document", doc.ID.String())
	}
	return nil
}

func (r *DocumentRepo) get(ctx context.Context, where squirrel.Sqlizer, key string) (*fiscal.FiscalDocument, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	sql, args, err := builder().Select(documentColumns...).From(documentsTable).Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var doc fiscal.FiscalDocument
	if err := pgxscan.Get(ctx, q, &doc, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("fiscal_document", key)
		}
		return nil, fmt.Errorf("get fiscal document: %w", err)
	}
	if err := r.decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, docID id.ID) (*fiscal.FiscalDocument, error) {
	return r.get(ctx, squirrel.Eq{"id": docID}, docID.String())
}

func (r *DocumentRepo) GetByReference(ctx context.Context, tenantID, reference string) (*fiscal.FiscalDocument, error) {
	return r.get(ctx, squirrel.Eq{"tenant_id": tenantID, "reference": reference}, reference)
}

func (r *DocumentRepo) list(ctx context.Context, where squirrel.Sqlizer, limit int) ([]*fiscal.FiscalDocument, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	sb := builder().Select(documentColumns...).From(documentsTable).Where(where).OrderBy("created_at", "number")
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var docs []*fiscal.FiscalDocument
	if err := pgxscan.Select(ctx, q, &docs, sql, args...); err != nil {
		return nil, fmt.Errorf("list fiscal documents: %w", err)
	}
	for _, d := range docs {
		if err := r.decode(d); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (r *DocumentRepo) ListPendingContingency(ctx context.Context, tenantID string, limit int) ([]*fiscal.FiscalDocument, error) {
	return r.list(ctx, pendingContingency(tenantID), limit)
}

func (r *DocumentRepo) ListByStatus(ctx context.Context, tenantID string, status fiscal.Status, limit int) ([]*fiscal.FiscalDocument, error) {
	return r.list(ctx, squirrel.Eq{"tenant_id": tenantID, "status": status}, limit)
}

func (r *DocumentRepo) CountPendingContingency(ctx context.Context, tenantID string) (int, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}
	sql, args, err := builder().Select("COUNT(*)").From(documentsTable).Where(pendingContingency(tenantID)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contingency documents: %w", err)
	}
	return n, nil
}

func pendingContingency(tenantID string) squirrel.Sqlizer {
	return squirrel.Eq{"tenant_id": tenantID, "status": fiscal.StatusPending, "contingency_mode": true}
}

var _ fiscal.DocumentRepository = (*DocumentRepo)(nil)
