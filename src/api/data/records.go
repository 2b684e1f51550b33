package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Records is the MySQL-backed moderation log.
type Records struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRecords returns a record store stamping rows with clock (time.Now when nil).
func NewRecords(db *gorm.DB, clock func() time.Time) *Records {
	if clock == nil {
		clock = time.Now
	}
	return &Records{db: db, now: clock}
}

func (r *Records) CountSince(ctx context.Context, guildIDs []string, since time.Time) (int64, error) {
	n, err := countSince(r.db.WithContext(ctx), guildIDs, since, r.now())
	if err != nil {
		return 0, storeErr("count records", err)
	}
	return n, nil
}

func countSince(db *gorm.DB, guildIDs []string, since, until time.Time) (int64, error) {
	if len(guildIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := db.Model(&types.ModerationRecord{}).
		Where("guild_id IN ? AND created_at >= ? AND created_at <= ?", guildIDs, since, until).
		Count(&n).Error
	return n, err
}

func (r *Records) Find(ctx context.Context, messageID string) (*moderation.Record, error) {
	row, err := findRecord(r.db.WithContext(ctx), messageID)
	if err != nil || row == nil {
		return nil, err
	}
	rec := toRecord(row)
	return &rec, nil
}

// Record inserts rec in one transaction with the owner's daily count. The plan
// row is locked so concurrent requests of the same owner cannot both take the
// last unit of the allowance.
func (r *Records) Record(ctx context.Context, rec moderation.Record, scope moderation.Scope) (*moderation.Handle, error) {
	now := r.now()
	var handle *moderation.Handle

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan types.Plan
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&plan, scope.PlanID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("plan %d of owner %s: %w", scope.PlanID, scope.OwnerID, moderation.ErrInconsistentState)
		}
		if err != nil {
			return storeErr("lock plan", err)
		}

		if h, err := existing(tx, rec); err != nil || h != nil {
			handle = h
			return err
		}

		used, err := countSince(tx, scope.GuildIDs, moderation.StartOfDay(now), now)
		if err != nil {
			return storeErr("recount records", err)
		}
		if used+1 > plan.MaxRequests {
			return &moderation.QuotaError{Limit: plan.MaxRequests, Used: used}
		}

		row := types.ModerationRecord{
			MessageID:  rec.MessageID,
			GuildID:    rec.GuildID,
			AuthorID:   rec.AuthorID,
			AuthorName: rec.AuthorName,
			Score:      rec.Score,
			CreatedAt:  now,

			Fingerprint: rec.Fingerprint,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return storeErr("insert record", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race against a concurrent insert of the same message.
			h, err := existing(tx, rec)
			if err == nil && h == nil {
				err = fmt.Errorf("record %s vanished after conflict: %w", rec.MessageID, moderation.ErrInconsistentState)
			}
			handle = h
			return err
		}
		handle = &moderation.Handle{ID: row.ID, CreatedAt: row.CreatedAt}
		return nil
	})
	switch {
	case err == nil:
		return handle, nil
	case errors.Is(err, moderation.ErrQuotaExceeded),
		errors.Is(err, moderation.ErrInconsistentState),
		errors.Is(err, moderation.ErrMessageConflict),
		errors.Is(err, moderation.ErrStoreUnavailable):
		return nil, err
	default:
		return nil, storeErr("record transaction", err)
	}
}

// existing returns a Duplicate handle when rec is already recorded, nil when
// the message id is free, and ErrMessageConflict when the id belongs to a
// different message.
func existing(tx *gorm.DB, rec moderation.Record) (*moderation.Handle, error) {
	row, err := findRecord(tx, rec.MessageID)
	if err != nil || row == nil {
		return nil, err
	}
	if !toRecord(row).SameMessage(rec) {
		return nil, fmt.Errorf("message %s: %w", rec.MessageID, moderation.ErrMessageConflict)
	}
	return &moderation.Handle{ID: row.ID, CreatedAt: row.CreatedAt, Duplicate: true}, nil
}

func findRecord(db *gorm.DB, messageID string) (*types.ModerationRecord, error) {
	var row types.ModerationRecord
	res := db.Where("message_id = ?", messageID).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, storeErr("look up record", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}

func toRecord(row *types.ModerationRecord) moderation.Record {
	return moderation.Record{
		MessageID:   row.MessageID,
		GuildID:     row.GuildID,
		AuthorID:    row.AuthorID,
		AuthorName:  row.AuthorName,
		Score:       row.Score,
		Fingerprint: row.Fingerprint,
	}
}
