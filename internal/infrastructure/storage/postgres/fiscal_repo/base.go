// Package fiscal_repo provides the PostgreSQL repositories of the fiscal
// domain. The tenant database is resolved from the context per call.
package fiscal_repo

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/infrastructure/storage/postgres"
)

const uniqueViolation = "23505"

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func querier(ctx context.Context) (postgres.Querier, error) {
	txm, err := postgres.TxManagerFromContext(ctx)
	if err != nil {
		return nil, apperror.NewInternal(err).WithDetail("missing", "tx_manager")
	}
	return txm.GetQuerier(ctx), nil
}

// uniqueConstraint returns the violated constraint name, or "".
func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

// only keeps the columns of data listed in cols, minus skip.
func only(data map[string]any, cols []string, skip ...string) map[string]any {
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		if _, ok := data[c]; !ok {
			continue
		}
		skipped := false
		for _, s := range skip {
			if s == c {
				skipped = true
				break
			}
		}
		if !skipped {
			out[c] = data[c]
		}
	}
	return out
}
