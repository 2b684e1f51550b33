package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/patreon"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/shared/tokenbox"
	"gorm.io/gorm"
)

// PatreonAccounts stores linked Patreon accounts on the owner row. Tokens are
// sealed before they reach the database.
type PatreonAccounts struct {
	db  *gorm.DB
	box *tokenbox.Box
	now func() time.Time
}

func NewPatreonAccounts(db *gorm.DB, box *tokenbox.Box) *PatreonAccounts {
	return &PatreonAccounts{db: db, box: box, now: time.Now}
}

func (s *PatreonAccounts) Account(ctx context.Context, ownerID string) (*patreon.Account, error) {
	owner, err := s.owner(s.db.WithContext(ctx), ownerID)
	if err != nil {
		return nil, err
	}
	if owner.PatreonID == nil || owner.PatreonAccessToken == nil {
		return nil, patreon.ErrNotLinked
	}

	access, err := s.box.Open(*owner.PatreonAccessToken)
	if err != nil {
		return nil, fmt.Errorf("open access token of %s: %w", ownerID, err)
	}
	var refresh string
	if owner.PatreonRefreshToken != nil {
		if refresh, err = s.box.Open(*owner.PatreonRefreshToken); err != nil {
			return nil, fmt.Errorf("open refresh token of %s: %w", ownerID, err)
		}
	}

	return &patreon.Account{
		OwnerID:      owner.OwnerID,
		PatreonID:    *owner.PatreonID,
		AccessToken:  access,
		RefreshToken: refresh,
		Subscriber:   owner.IsPatreonSubscriber,
		ConnectedAt:  owner.PatreonConnectedAt,
	}, nil
}

func (s *PatreonAccounts) Link(ctx context.Context, ownerID string, link patreon.Link) error {
	access, refresh, err := s.seal(link.AccessToken, link.RefreshToken)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var other types.Owner
		res := tx.Where("patreon_id = ?", link.PatreonID).Limit(1).Find(&other)
		if res.Error != nil {
			return storeErr("look up patreon id", res.Error)
		}
		if res.RowsAffected > 0 && other.OwnerID != ownerID {
			return patreon.ErrAlreadyLinked
		}

		owner, err := s.owner(tx, ownerID)
		if err != nil {
			return err
		}
		now := s.now()
		err = tx.Model(owner).Updates(map[string]interface{}{
			"patreon_id":            link.PatreonID,
			"patreon_access_token":  access,
			"patreon_refresh_token": refresh,
			"patreon_connected_at":  now,
			"is_patreon_subscriber": link.Subscriber,
		}).Error
		if err != nil {
			return storeErr("link patreon", err)
		}
		return nil
	})
}

func (s *PatreonAccounts) Unlink(ctx context.Context, ownerID string) error {
	db := s.db.WithContext(ctx)
	owner, err := s.owner(db, ownerID)
	if err != nil {
		return err
	}
	if owner.PatreonID == nil {
		return patreon.ErrNotLinked
	}

	err = db.Model(owner).Updates(map[string]interface{}{
		"patreon_id":            nil,
		"patreon_access_token":  nil,
		"patreon_refresh_token": nil,
		"patreon_connected_at":  nil,
		"is_patreon_subscriber": false,
	}).Error
	if err != nil {
		return storeErr("unlink patreon", err)
	}
	return nil
}

func (s *PatreonAccounts) SaveTokens(ctx context.Context, ownerID, accessToken, refreshToken string, subscriber bool) error {
	access, refresh, err := s.seal(accessToken, refreshToken)
	if err != nil {
		return err
	}
	return s.update(ctx, ownerID, map[string]interface{}{
		"patreon_access_token":  access,
		"patreon_refresh_token": refresh,
		"is_patreon_subscriber": subscriber,
	})
}

func (s *PatreonAccounts) SetSubscriber(ctx context.Context, ownerID string, subscriber bool) error {
	return s.update(ctx, ownerID, map[string]interface{}{"is_patreon_subscriber": subscriber})
}

func (s *PatreonAccounts) LinkedOwners(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&types.Owner{}).
		Where("patreon_id IS NOT NULL AND patreon_access_token IS NOT NULL").
		Order("id").
		Pluck("owner_id", &ids).Error
	if err != nil {
		return nil, storeErr("list linked owners", err)
	}
	return ids, nil
}

func (s *PatreonAccounts) update(ctx context.Context, ownerID string, values map[string]interface{}) error {
	err := s.db.WithContext(ctx).Model(&types.Owner{}).Where("owner_id = ?", ownerID).Updates(values).Error
	if err != nil {
		return storeErr("update owner", err)
	}
	return nil
}

func (s *PatreonAccounts) owner(db *gorm.DB, ownerID string) (*types.Owner, error) {
	var owner types.Owner
	err := db.Where("owner_id = ?", ownerID).Take(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("owner %s: %w", ownerID, moderation.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("load owner", err)
	}
	return &owner, nil
}

func (s *PatreonAccounts) seal(accessToken, refreshToken string) (access string, refresh *string, err error) {
	if access, err = s.box.Seal(accessToken); err != nil {
		return "", nil, err
	}
	if refreshToken != "" {
		sealed, err := s.box.Seal(refreshToken)
		if err != nil {
			return "", nil, err
		}
		refresh = &sealed
	}
	return access, refresh, nil
}
