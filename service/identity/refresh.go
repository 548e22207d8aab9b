package identity

import (
	"context"
	"time"

	"github.com/tealdao/derivekit/core"
)

// Refresh re-fetches the derived key's validity and capability set
// from the node and overwrites the local cache. Concurrent refreshes
// for the same owner are collapsed.
func (s *Service) Refresh(ctx context.Context, ownerPublicKey string) error {
	_, err, _ := s.sf.Do(ownerPublicKey, func() (any, error) {
		return nil, s.refresh(ctx, ownerPublicKey)
	})

	return err
}

func (s *Service) refresh(ctx context.Context, ownerPublicKey string) error {
	user, err := s.users.Find(ctx, ownerPublicKey)
	if err != nil {
		return err
	}

	dk := user.PrimaryDerivedKey
	if dk == nil {
		return core.ErrUserNotFound
	}

	status, err := s.node.DerivedKeyStatus(ctx, ownerPublicKey, dk.PublicKey)
	if err != nil {
		return err
	}

	dk.Valid = status.Valid
	if status.ExpirationBlock > 0 {
		dk.ExpirationBlock = status.ExpirationBlock
	}
	if status.Capability != nil {
		dk.Capability = status.Capability
	}

	if err := s.users.Put(ctx, ownerPublicKey, user); err != nil {
		return err
	}

	s.notify(ctx, core.EventRefresh)
	return nil
}

// backgroundRefresh is the fire-and-forget flavor used after
// submissions and active-user switches. Failures degrade to stale
// permissions and a later re-prompt, so they are logged and swallowed.
func (s *Service) backgroundRefresh(ownerPublicKey string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.Refresh(ctx, ownerPublicKey); err != nil {
			s.logger.Warn("background refresh", "owner", ownerPublicKey, "err", err)
		}
	}()
}
