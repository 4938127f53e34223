package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/cinebot/pkg/models"
)

// ErrSessionNotFound is returned for operations on an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// Store is the interface for session persistence.
//
// Histories returned by a Store are copies; callers may modify them freely.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error

	// GetOrCreate returns the session with id, creating it when id is empty
	// or unknown. created reports whether a new session was made.
	GetOrCreate(ctx context.Context, id string) (session *models.Session, created bool, err error)
	List(ctx context.Context, opts ListOptions) ([]Summary, error)

	// Message history
	AppendMessages(ctx context.Context, sessionID string, msgs []models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	ResetHistory(ctx context.Context, sessionID string) error

	Stats(ctx context.Context) (Stats, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	// IdleSince selects sessions whose last activity is before this time.
	IdleSince time.Time
	Limit     int
	Offset    int
}

// Summary describes one session for listings.
type Summary struct {
	Session      models.Session
	MessageCount int
}

// Stats aggregates store contents.
type Stats struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}
