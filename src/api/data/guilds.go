package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"gorm.io/gorm"
)

const guildMessageLimit = 20

// Guilds resolves guilds, owners and plans, and manages guild settings.
type Guilds struct {
	db                 *gorm.DB
	defaultMaxRequests int64
}

// NewGuilds returns a directory. New owners get a plan of defaultMaxRequests.
func NewGuilds(db *gorm.DB, defaultMaxRequests int64) *Guilds {
	return &Guilds{db: db, defaultMaxRequests: defaultMaxRequests}
}

func (g *Guilds) QuotaScope(ctx context.Context, guildID string) (moderation.Scope, error) {
	db := g.db.WithContext(ctx)

	var guild types.Guild
	if err := db.Where("guild_id = ?", guildID).Take(&guild).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return moderation.Scope{}, fmt.Errorf("guild %s: %w", guildID, moderation.ErrNotFound)
		}
		return moderation.Scope{}, storeErr("load guild", err)
	}

	var owner types.Owner
	if err := db.Where("owner_id = ?", guild.OwnerID).Take(&owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return moderation.Scope{}, fmt.Errorf("owner %s of guild %s: %w", guild.OwnerID, guildID, moderation.ErrInconsistentState)
		}
		return moderation.Scope{}, storeErr("load owner", err)
	}
	if owner.PlanID == nil {
		return moderation.Scope{}, fmt.Errorf("owner %s has no plan: %w", owner.OwnerID, moderation.ErrInconsistentState)
	}

	var plan types.Plan
	if err := db.Take(&plan, *owner.PlanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return moderation.Scope{}, fmt.Errorf("plan %d of owner %s: %w", *owner.PlanID, owner.OwnerID, moderation.ErrInconsistentState)
		}
		return moderation.Scope{}, storeErr("load plan", err)
	}

	var ids []string
	if err := db.Model(&types.Guild{}).Where("owner_id = ?", owner.OwnerID).Pluck("guild_id", &ids).Error; err != nil {
		return moderation.Scope{}, storeErr("list owner guilds", err)
	}

	return moderation.Scope{
		GuildID:  guildID,
		OwnerID:  owner.OwnerID,
		PlanID:   plan.ID,
		Limit:    plan.MaxRequests,
		GuildIDs: ids,
	}, nil
}

// Registration is what the bot reports when it joins a guild.
type Registration struct {
	OwnerID   string
	OwnerName *string
	OwnerIcon *string
	GuildID   string
	GuildName string
	GuildIcon *string
	Moderate  bool
}

// Register creates the owner (with a fresh plan) and the guild if they are
// unknown, or re-enables moderation on an existing guild.
func (g *Guilds) Register(ctx context.Context, reg Registration) (*types.Guild, error) {
	var guild types.Guild
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner types.Owner
		err := tx.Where("owner_id = ?", reg.OwnerID).Take(&owner).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			plan := types.Plan{MaxRequests: g.defaultMaxRequests}
			if err := tx.Create(&plan).Error; err != nil {
				return storeErr("create plan", err)
			}
			owner = types.Owner{
				OwnerID:   reg.OwnerID,
				OwnerName: reg.OwnerName,
				OwnerIcon: reg.OwnerIcon,
				PlanID:    &plan.ID,
			}
			if err := tx.Create(&owner).Error; err != nil {
				return storeErr("create owner", err)
			}
		case err != nil:
			return storeErr("load owner", err)
		}

		err = tx.Where("guild_id = ?", reg.GuildID).Take(&guild).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			guild = types.Guild{
				GuildID:   reg.GuildID,
				GuildName: reg.GuildName,
				GuildIcon: reg.GuildIcon,
				Moderate:  reg.Moderate,
				OwnerID:   owner.OwnerID,
			}
			if err := tx.Create(&guild).Error; err != nil {
				return storeErr("create guild", err)
			}
		case err != nil:
			return storeErr("load guild", err)
		default:
			updates := map[string]interface{}{"moderate": true}
			if reg.GuildName != "" {
				updates["guild_name"] = reg.GuildName
			}
			if reg.GuildIcon != nil {
				updates["guild_icon"] = *reg.GuildIcon
			}
			err := tx.Model(&guild).Updates(updates).Error
			if err != nil {
				return storeErr("enable guild", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := g.Settings(ctx, guild.GuildID); err != nil {
		return nil, err
	}
	return &guild, nil
}

// Disable turns moderation off for a guild without deleting its history.
func (g *Guilds) Disable(ctx context.Context, guildID string) error {
	res := g.db.WithContext(ctx).Model(&types.Guild{}).
		Where("guild_id = ?", guildID).
		Update("moderate", false)
	if res.Error != nil {
		return storeErr("disable guild", res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := g.db.WithContext(ctx).Model(&types.Guild{}).Where("guild_id = ?", guildID).Count(&n).Error; err != nil {
			return storeErr("load guild", err)
		}
		if n == 0 {
			return fmt.Errorf("guild %s: %w", guildID, moderation.ErrNotFound)
		}
	}
	return nil
}

// Settings returns the guild's settings, creating the defaults on first access.
func (g *Guilds) Settings(ctx context.Context, guildID string) (*types.Settings, error) {
	db := g.db.WithContext(ctx)
	defaults := types.DefaultSettings(guildID)

	var s types.Settings
	err := db.Where(types.Settings{GuildID: guildID}).Attrs(defaults).FirstOrCreate(&s).Error
	if err != nil {
		// A concurrent first access may have created the row.
		if retry := db.Where("guild_id = ?", guildID).Take(&s).Error; retry == nil {
			return &s, nil
		}
		return nil, storeErr("ensure settings", err)
	}
	return &s, nil
}

// SettingsUpdate carries every user-editable field of a guild's settings.
type SettingsUpdate struct {
	ConfidenceLimit   float64
	ModerationMessage string
	EnableH           bool
	EnableV           bool
	EnableS           bool
	EnableH2          bool
	EnableV2          bool
	EnableS3          bool
	EnableHR          bool
	EnableSH          bool
}

// UpdateSettings overwrites the settings of a guild owned by ownerID.
// It fails with ErrNotFound when the caller does not own the guild.
func (g *Guilds) UpdateSettings(ctx context.Context, ownerID, guildID string, u SettingsUpdate) error {
	if _, err := g.owned(ctx, ownerID, guildID); err != nil {
		return err
	}
	if _, err := g.Settings(ctx, guildID); err != nil {
		return err
	}

	// A map so that false toggles are written too.
	err := g.db.WithContext(ctx).Model(&types.Settings{}).
		Where("guild_id = ?", guildID).
		Updates(map[string]interface{}{
			"confidence_limit":   u.ConfidenceLimit,
			"moderation_message": u.ModerationMessage,
			"enable_h":           u.EnableH,
			"enable_v":           u.EnableV,
			"enable_s":           u.EnableS,
			"enable_h2":          u.EnableH2,
			"enable_v2":          u.EnableV2,
			"enable_s3":          u.EnableS3,
			"enable_hr":          u.EnableHR,
			"enable_sh":          u.EnableSH,
		}).Error
	if err != nil {
		return storeErr("update settings", err)
	}
	return nil
}

// ListOwned returns the owner's guilds that are being moderated, with their records.
func (g *Guilds) ListOwned(ctx context.Context, ownerID string) ([]types.Guild, error) {
	var guilds []types.Guild
	err := g.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Where("owner_id = ? AND moderate = ?", ownerID, true).
		Order("id").
		Find(&guilds).Error
	if err != nil {
		return nil, storeErr("list guilds", err)
	}
	return guilds, nil
}

// Owned returns one guild of ownerID with its latest records and its settings.
func (g *Guilds) Owned(ctx context.Context, ownerID, guildID string) (*types.Guild, error) {
	guild, err := g.owned(ctx, ownerID, guildID)
	if err != nil {
		return nil, err
	}

	err = g.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("created_at DESC").
		Limit(guildMessageLimit).
		Find(&guild.Messages).Error
	if err != nil {
		return nil, storeErr("load guild records", err)
	}

	if guild.Settings, err = g.Settings(ctx, guildID); err != nil {
		return nil, err
	}
	return guild, nil
}

func (g *Guilds) owned(ctx context.Context, ownerID, guildID string) (*types.Guild, error) {
	var guild types.Guild
	err := g.db.WithContext(ctx).
		Where("guild_id = ? AND owner_id = ?", guildID, ownerID).
		Take(&guild).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("guild %s of owner %s: %w", guildID, ownerID, moderation.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("load guild", err)
	}
	return &guild, nil
}

// Owner returns an owner with its plan and guilds.
func (g *Guilds) Owner(ctx context.Context, ownerID string) (*types.Owner, error) {
	var owner types.Owner
	err := g.db.WithContext(ctx).
		Preload("Plan").
		Preload("Guilds", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("owner_id = ?", ownerID).
		Take(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("owner %s: %w", ownerID, moderation.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("load owner", err)
	}
	return &owner, nil
}

// RecordsSince returns the records of every guild of ownerID created at or
// after since, each with its guild.
func (g *Guilds) RecordsSince(ctx context.Context, ownerID string, since time.Time) ([]types.ModerationRecord, error) {
	db := g.db.WithContext(ctx)

	var ids []string
	if err := db.Model(&types.Guild{}).Where("owner_id = ?", ownerID).Pluck("guild_id", &ids).Error; err != nil {
		return nil, storeErr("list owner guilds", err)
	}
	records := []types.ModerationRecord{}
	if len(ids) == 0 {
		return records, nil
	}

	err := db.Preload("Guild").
		Where("guild_id IN ? AND created_at >= ?", ids, since).
		Order("created_at").
		Find(&records).Error
	if err != nil {
		return nil, storeErr("list records", err)
	}
	return records, nil
}
