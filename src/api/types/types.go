package types

import (
	"time"
)

// Plans
type Plan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MaxRequests int64     `gorm:"not null" json:"max_requests"`
	CreatedAt   time.Time `json:"created_date"`
	UpdatedAt   time.Time `json:"updated_date"`
}

// Owners (billing/identity root, keyed by Discord user id)
type Owner struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	OwnerID             string     `gorm:"size:32;uniqueIndex;not null" json:"owner_id"`
	OwnerName           *string    `gorm:"size:128" json:"owner_name"`
	OwnerIcon           *string    `gorm:"size:256" json:"owner_icon"`
	PlanID              *uint      `gorm:"index" json:"plan_id"`
	Plan                *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Guilds              []Guild    `gorm:"foreignKey:OwnerID;references:OwnerID" json:"guilds,omitempty"`
	PatreonID           *string    `gorm:"size:64;uniqueIndex" json:"patreon_id"`
	PatreonAccessToken  *string    `gorm:"type:text" json:"-"`
	PatreonRefreshToken *string    `gorm:"type:text" json:"-"`
	PatreonConnectedAt  *time.Time `json:"patreon_connected_at"`
	IsPatreonSubscriber bool       `gorm:"not null" json:"is_patreon_subscriber"`
	CreatedAt           time.Time  `json:"created_date"`
	UpdatedAt           time.Time  `json:"updated_date"`
}

// Guilds (moderated communities)
type Guild struct {
	ID        uint               `gorm:"primaryKey" json:"id"`
	GuildID   string             `gorm:"size:32;uniqueIndex;not null" json:"guild_id"`
	GuildName string             `gorm:"size:128;not null" json:"guild_name"`
	GuildIcon *string            `gorm:"size:256" json:"guild_icon"`
	Moderate  bool               `gorm:"not null" json:"moderate"`
	OwnerID   string             `gorm:"size:32;index;not null" json:"owner_id"`
	Owner     *Owner             `gorm:"foreignKey:OwnerID;references:OwnerID" json:"owner,omitempty"`
	Settings  *Settings          `gorm:"foreignKey:GuildID;references:GuildID" json:"settings,omitempty"`
	Messages  []ModerationRecord `gorm:"foreignKey:GuildID;references:GuildID" json:"messages,omitempty"`
	CreatedAt time.Time          `json:"created_date"`
	UpdatedAt time.Time          `json:"updated_date"`
}

// Per-guild moderation settings
type Settings struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	GuildID           string    `gorm:"size:32;uniqueIndex;not null" json:"guild_id"`
	ConfidenceLimit   float64   `gorm:"not null" json:"confidence_limit"`
	ModerationMessage string    `gorm:"size:512;not null" json:"moderation_message"`
	EnableH           bool      `gorm:"column:enable_h;not null" json:"enable_h"`
	EnableV           bool      `gorm:"column:enable_v;not null" json:"enable_v"`
	EnableS           bool      `gorm:"column:enable_s;not null" json:"enable_s"`
	EnableH2          bool      `gorm:"column:enable_h2;not null" json:"enable_h2"`
	EnableV2          bool      `gorm:"column:enable_v2;not null" json:"enable_v2"`
	EnableS3          bool      `gorm:"column:enable_s3;not null" json:"enable_s3"`
	EnableHR          bool      `gorm:"column:enable_hr;not null" json:"enable_hr"`
	EnableSH          bool      `gorm:"column:enable_sh;not null" json:"enable_sh"`
	CreatedAt         time.Time `json:"created_date"`
	UpdatedAt         time.Time `json:"updated_date"`
}

// Moderated messages (audit trail and quota ledger)
type ModerationRecord struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	MessageID  string    `gorm:"size:32;uniqueIndex;not null" json:"message_id"`
	GuildID    string    `gorm:"size:32;not null;index:idx_messages_guild_created,priority:1" json:"guild_id"`
	AuthorID   string    `gorm:"size:32;not null" json:"author_id"`
	AuthorName string    `gorm:"size:128" json:"author_name"`
	Score      float64   `gorm:"not null" json:"score"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false;not null;index:idx_messages_guild_created,priority:2" json:"created_date"`
	Guild      *Guild    `gorm:"foreignKey:GuildID;references:GuildID" json:"guild,omitempty"`

	// xxhash of the moderated text; a resend must match it to count as the same message.
	Fingerprint string `gorm:"size:16;not null;default:''" json:"-"`
}

func (ModerationRecord) TableName() string { return "messages" }

const (
	DefaultConfidenceLimit   = 0.5
	DefaultModerationMessage = "Your message was removed because it may break this server's rules."
)

// DefaultSettings returns the settings a guild starts with.
func DefaultSettings(guildID string) Settings {
	return Settings{
		GuildID:           guildID,
		ConfidenceLimit:   DefaultConfidenceLimit,
		ModerationMessage: DefaultModerationMessage,
		EnableH:           true,
		EnableV:           true,
		EnableS:           true,
		EnableH2:          true,
		EnableV2:          true,
		EnableS3:          true,
		EnableHR:          true,
		EnableSH:          true,
	}
}

// AllModels lists every table managed by AutoMigrate.
var AllModels = []interface{}{
	&Plan{}, &Owner{}, &Guild{}, &Settings{}, &ModerationRecord{},
}
