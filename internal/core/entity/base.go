// Package entity holds the identity and audit fields shared by persisted
// fiscal records.
package entity

import (
	"time"

	"fiscalhub/internal/core/id"
)

// BaseEntity is the primary key plus an optimistic version counter.
type BaseEntity struct {
	ID      id.ID `db:"id" json:"id"`
	Version int   `db:"version" json:"version"`
}

func NewBaseEntity() BaseEntity {
	return BaseEntity{ID: id.New(), Version: 1}
}

// BaseDocument adds creation and modification times in UTC.
type BaseDocument struct {
	BaseEntity

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

func NewBaseDocument() BaseDocument {
	now := time.Now().UTC()
	return BaseDocument{BaseEntity: NewBaseEntity(), CreatedAt: now, UpdatedAt: now}
}

// Touch records a modification. The stored version is bumped by the
// repository update, so only the in-memory copy is advanced here.
func (b *BaseDocument) Touch() {
	b.UpdatedAt = time.Now().UTC()
	b.Version++
}
