package postgres

import (
	"context"
	"fmt"

	"fiscalhub/internal/core/tenant"
)

// TxManagerFromContext returns the tenant's *TxManager placed in ctx by the
// tenant middleware or the worker loop. Domain code depends on tx.Manager only.
func TxManagerFromContext(ctx context.Context) (*TxManager, error) {
	txm, err := tenant.GetTxManager(ctx)
	if err != nil {
		return nil, err
	}
	pgTxm, ok := txm.(*TxManager)
	if !ok || pgTxm == nil {
		return nil, fmt.Errorf("tx manager in context has unexpected type %T", txm)
	}
	return pgTxm, nil
}
