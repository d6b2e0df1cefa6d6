package fiscal_repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/storage/postgres"
)

const profilesTable = "fiscal_profiles"

var profileColumns = postgres.ExtractDBColumns[fiscal.Profile]()

// ProfileRepo implements fiscal.ProfileRepository. One row per tenant.
type ProfileRepo struct{}

func NewProfileRepo() *ProfileRepo { return &ProfileRepo{} }

func (r *ProfileRepo) Get(ctx context.Context, tenantID string) (*fiscal.Profile, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}
	sql, args, err := builder().Select(profileColumns...).From(profilesTable).
		Where(squirrel.Eq{"tenant_id": tenantID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var p fiscal.Profile
	if err := pgxscan.Get(ctx, q, &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("fiscal_profile", tenantID)
		}
		return nil, fmt.Errorf("get fiscal profile: %w", err)
	}
	return &p, nil
}

// Save upserts p and stamps UpdatedAt, which invalidates cached gateways.
func (r *ProfileRepo) Save(ctx context.Context, p *fiscal.Profile) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	data := only(postgres.StructToMap(p), profileColumns)

	sets := make([]string, 0, len(data))
	for _, c := range profileColumns {
		if _, ok := data[c]; ok && c != "tenant_id" {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
	}
	sql, args, err := builder().Insert(profilesTable).SetMap(data).
		Suffix("ON CONFLICT (tenant_id) DO UPDATE SET " + strings.Join(sets, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("save fiscal profile: %w", err)
	}
	return nil
}

var _ fiscal.ProfileRepository = (*ProfileRepo)(nil)
