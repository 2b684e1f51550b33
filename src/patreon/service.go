package patreon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyLinked is returned when the Patreon account belongs to another owner.
var ErrAlreadyLinked = errors.New("patreon: account already linked to another user")

// Account is a linked Patreon account with decrypted tokens.
type Account struct {
	OwnerID      string
	PatreonID    string
	AccessToken  string
	RefreshToken string
	Subscriber   bool
	ConnectedAt  *time.Time
}

// Link is what gets stored when an owner connects Patreon.
type Link struct {
	PatreonID    string
	AccessToken  string
	RefreshToken string
	Subscriber   bool
}

// AccountStore persists linked accounts.
type AccountStore interface {
	// Account fails with ErrNotLinked when the owner has no linked account.
	Account(ctx context.Context, ownerID string) (*Account, error)
	// Link fails with ErrAlreadyLinked when the Patreon id belongs to another owner.
	Link(ctx context.Context, ownerID string, link Link) error
	// Unlink fails with ErrNotLinked when there is nothing to unlink.
	Unlink(ctx context.Context, ownerID string) error
	SaveTokens(ctx context.Context, ownerID, accessToken, refreshToken string, subscriber bool) error
	SetSubscriber(ctx context.Context, ownerID string, subscriber bool) error
	LinkedOwners(ctx context.Context) ([]string, error)
}

// API is the subset of Client used by Service.
type API interface {
	Exchange(ctx context.Context, code string) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Identity(ctx context.Context, accessToken string) (*Identity, error)
}

// Service links accounts and keeps the subscriber flag current.
type Service struct {
	api    API
	store  AccountStore
	logger *zap.Logger
}

func NewService(api API, store AccountStore, logger *zap.Logger) *Service {
	return &Service{
		api:    api,
		store:  store,
		logger: logger.With(zap.String("component", "patreon")),
	}
}

// Link exchanges an authorization code and attaches the account to ownerID.
func (s *Service) Link(ctx context.Context, ownerID, code string) (*Identity, error) {
	tok, err := s.api.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("patreon: exchange returned no access token")
	}
	id, err := s.api.Identity(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	err = s.store.Link(ctx, ownerID, Link{
		PatreonID:    id.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Subscriber:   id.Subscriber,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Linked Patreon account",
		zap.String("ownerID", ownerID),
		zap.String("patreonID", id.ID),
		zap.Bool("subscriber", id.Subscriber))
	return id, nil
}

func (s *Service) Unlink(ctx context.Context, ownerID string) error {
	return s.store.Unlink(ctx, ownerID)
}

// Account returns the stored account without contacting Patreon.
func (s *Service) Account(ctx context.Context, ownerID string) (*Account, error) {
	return s.store.Account(ctx, ownerID)
}

// Sync re-reads the owner's membership from Patreon and stores the result.
// An expired access token is refreshed once; if that fails the owner is
// marked as not subscribed and no error is returned.
func (s *Service) Sync(ctx context.Context, ownerID string) (*Account, error) {
	acct, err := s.store.Account(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("ownerID", ownerID), zap.String("patreonID", acct.PatreonID))

	id, err := s.api.Identity(ctx, acct.AccessToken)
	switch {
	case err == nil:
		if id.Subscriber != acct.Subscriber {
			if err := s.store.SetSubscriber(ctx, ownerID, id.Subscriber); err != nil {
				return nil, err
			}
		}
		acct.Subscriber = id.Subscriber
		return acct, nil

	case errors.Is(err, ErrUnauthorized) && acct.RefreshToken != "":
		refreshed, err := s.refresh(ctx, acct)
		if err != nil && !errors.Is(err, ErrRefreshFailed) {
			return nil, err
		}
		if err != nil {
			log.Warn("Failed to refresh Patreon token", zap.Error(err))
			if err := s.store.SetSubscriber(ctx, ownerID, false); err != nil {
				return nil, err
			}
			acct.Subscriber = false
			return acct, nil
		}
		return refreshed, nil

	default:
		return nil, fmt.Errorf("sync owner %s: %w", ownerID, err)
	}
}

func (s *Service) refresh(ctx context.Context, acct *Account) (*Account, error) {
	tok, err := s.api.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		return nil, err
	}
	id, err := s.api.Identity(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if err := s.store.SaveTokens(ctx, acct.OwnerID, tok.AccessToken, tok.RefreshToken, id.Subscriber); err != nil {
		return nil, err
	}

	out := *acct
	out.AccessToken = tok.AccessToken
	out.RefreshToken = tok.RefreshToken
	out.Subscriber = id.Subscriber
	return &out, nil
}
