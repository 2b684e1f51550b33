package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/OneOfOne/xxhash"
)

// Scope is the quota-accounting context of a guild: the owner it belongs to,
// that owner's plan, and every guild sharing the same allowance.
type Scope struct {
	GuildID  string
	OwnerID  string
	PlanID   uint
	Limit    int64
	GuildIDs []string
}

// Directory resolves guilds to their quota scope.
type Directory interface {
	// QuotaScope fails with ErrNotFound for an unknown guild and with
	// ErrInconsistentState when the owner or plan is missing.
	QuotaScope(ctx context.Context, guildID string) (Scope, error)
}

// Record is one moderated message as written to the store.
type Record struct {
	MessageID  string
	GuildID    string
	AuthorID   string
	AuthorName string
	Score      float64

	// Fingerprint identifies the moderated text, see Fingerprint.
	Fingerprint string
}

// Fingerprint hashes a message text so that a resend can be told apart from
// a different message reusing the same id.
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", xxhash.ChecksumString64(text))
}

// SameMessage reports whether r and other describe the same request.
func (r Record) SameMessage(other Record) bool {
	return r.MessageID == other.MessageID &&
		r.GuildID == other.GuildID &&
		r.Fingerprint == other.Fingerprint
}

// Handle identifies a persisted record.
type Handle struct {
	ID        uint64
	CreatedAt time.Time
	// Duplicate reports that the same message was already recorded and nothing was written.
	Duplicate bool
}

// RecordStore is the append-only log of moderated messages. It is both the
// audit trail and the source of the daily usage count.
type RecordStore interface {
	// CountSince counts records of the given guilds created at or after since.
	CountSince(ctx context.Context, guildIDs []string, since time.Time) (int64, error)
	// Find returns the record of messageID, or nil when there is none.
	Find(ctx context.Context, messageID string) (*Record, error)
	// Record appends rec, stamped with the store's clock. It re-checks the
	// scope's daily limit atomically with the insert and fails with
	// ErrQuotaExceeded if the write would exceed it. A record of the same
	// message yields a Duplicate handle; one of a different message fails with
	// ErrMessageConflict.
	Record(ctx context.Context, rec Record, scope Scope) (*Handle, error)
}

// Event is published after a record is persisted.
type Event struct {
	MessageID      string
	GuildID        string
	AuthorID       string
	ViolationScore float64
	TopLabel       string
	CreatedAt      time.Time
}

// Publisher fans moderation events out to other consumers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
