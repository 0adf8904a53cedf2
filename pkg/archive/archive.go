// Package archive persists the transcripts of finished sessions.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("archive: record not found")

// Record is the archived form of a session.
type Record struct {
	ID        string
	Status    string
	Turns     int
	FinalText string
	Failure   *fault.Descriptor
	Messages  []message.Message
	Usage     usage.TokenCount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository stores session records.
type Repository interface {
	// Save creates or replaces the record with r.ID. A zero CreatedAt is set
	// to the current time; UpdatedAt is always set to the current time.
	Save(ctx context.Context, r Record) error

	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// List returns up to limit records, newest first. A limit of zero or
	// less returns every record.
	List(ctx context.Context, limit int) ([]Record, error)

	// Close releases the underlying resources.
	Close() error
}

func clone(r Record) Record {
	r.Messages = append([]message.Message(nil), r.Messages...)
	if r.Failure != nil {
		d := *r.Failure
		r.Failure = &d
	}
	return r
}
