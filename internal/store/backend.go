// Package store persists outreach entities as id-keyed collections.
//
// Entities reference each other by id only. A Backend stores opaque JSON
// documents grouped by kind; Store layers typed accessors, filtering and
// campaign cascade deletes on top of it.
package store

import (
	"context"
)

// Document is one stored entity.
type Document struct {
	ID      string
	Version int64
	Data    []byte
}

// Filter matches documents whose top-level JSON string fields equal the
// given values.
type Filter map[string]string

// AnyVersion disables the optimistic version check on Update.
const AnyVersion int64 = -1

// Backend is the persistence technology behind Store.
type Backend interface {
	// Insert stores a new document; duplicates return apperr.ErrAlreadyExists.
	Insert(ctx context.Context, kind, id string, data []byte) error
	// Update replaces a document. When expected is not AnyVersion the stored
	// version must match or apperr.ErrStateConflict is returned. It returns
	// the new version.
	Update(ctx context.Context, kind, id string, expected int64, data []byte) (int64, error)
	Get(ctx context.Context, kind, id string) (*Document, error)
	List(ctx context.Context, kind string, filter Filter) ([]*Document, error)
	Delete(ctx context.Context, kind, id string) error
	DeleteWhere(ctx context.Context, kind string, filter Filter) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Entity kinds.
const (
	kindCampaign     = "campaign"
	kindTarget       = "target"
	kindConversation = "conversation"
	kindMessage      = "message"
	kindNegotiation  = "negotiation"
	kindRule         = "rule"
	kindSnapshot     = "analytics_snapshot"
	kindCredential   = "credential"
	kindInboundEvent = "inbound_event"
)
