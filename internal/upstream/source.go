// Package upstream is the client side of the paginated, rate-limited comment
// API the ingestion core reads from.
package upstream

import (
	"context"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
)

// DocumentInfo describes the upstream document a job ingests comments for.
type DocumentInfo struct {
	DocumentID string
	ObjectID   string
	Title      string
	TotalItems int
}

// PageRequest addresses one page of the comment feed of an object. Pages are
// ordered by modification time; Since restricts the feed to comments
// modified at or after the cursor.
type PageRequest struct {
	ObjectID string
	Page     int
	PageSize int
	Since    string
}

// Page is one fetched page of normalized comments.
type Page struct {
	Comments []models.Comment
	// LastModified is the greatest modification time seen on the page; it is
	// the cursor a following set of pages starts from.
	LastModified string
	HasMore      bool
	// RetryAfter is the cooldown the upstream asked for, if any.
	RetryAfter time.Duration
}

// Source is the upstream contract.
type Source interface {
	Describe(ctx context.Context, documentID string) (DocumentInfo, error)
	Count(ctx context.Context, objectID string) (int, error)
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}
