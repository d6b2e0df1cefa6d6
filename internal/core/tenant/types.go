// Package tenant resolves tenant databases for the Database-per-Tenant layout.
// Every tenant keeps its fiscal documents, counters and subscriptions in its own PostgreSQL database.
package tenant

import (
	"fmt"
	"time"
)

// Status represents tenant lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Tenant is a row of the meta-database tenants table.
type Tenant struct {
	ID          string         `db:"id"`
	Slug        string         `db:"slug"`
	DisplayName string         `db:"display_name"`
	DBName      string         `db:"db_name"`
	DBHost      string         `db:"db_host"`
	DBPort      int            `db:"db_port"`
	Status      Status         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	Settings    map[string]any `db:"settings"`
}

// IsActive returns true if tenant can accept requests.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// Region returns the state (UF) whose tax authority serves this tenant.
// Stored in settings as "fiscal_region"; empty when not configured.
func (t *Tenant) Region() string {
	if t.Settings == nil {
		return ""
	}
	if v, ok := t.Settings["fiscal_region"].(string); ok {
		return v
	}
	return ""
}

// DSN builds PostgreSQL connection string for this tenant's database.
func (t *Tenant) DSN(user, password string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		user, password, t.DBHost, t.DBPort, t.DBName,
	)
}
