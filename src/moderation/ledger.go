package moderation

import (
	"context"
	"fmt"
	"time"
)

// Admission is the outcome of a quota check.
type Admission struct {
	Allow bool
	Limit int64
	Used  int64
	Scope Scope
}

// Ledger decides whether an owner may spend one more request today. The
// allowance is shared by every guild of the owner and resets at local midnight.
type Ledger struct {
	dir     Directory
	records RecordStore
	now     func() time.Time
}

// NewLedger returns a ledger reading from dir and records. A nil clock means time.Now.
func NewLedger(dir Directory, records RecordStore, clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{dir: dir, records: records, now: clock}
}

// Admit checks whether one more request for guildID fits in today's allowance.
func (l *Ledger) Admit(ctx context.Context, guildID string) (Admission, error) {
	scope, err := l.dir.QuotaScope(ctx, guildID)
	if err != nil {
		return Admission{}, err
	}

	used, err := l.records.CountSince(ctx, scope.GuildIDs, StartOfDay(l.now()))
	if err != nil {
		return Admission{}, fmt.Errorf("count today's records: %w", err)
	}

	return Admission{
		Allow: used+1 <= scope.Limit,
		Limit: scope.Limit,
		Used:  used,
		Scope: scope,
	}, nil
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
