package refresher

import (
	"context"
	"log/slog"
	"time"

	"github.com/tealdao/derivekit/core"
)

func New(
	users core.UserStore,
	node core.NodeClient,
	logger *slog.Logger,
) *Refresher {
	return &Refresher{
		users:  users,
		node:   node,
		logger: logger.With("worker", "refresher"),
	}
}

// Refresher periodically re-checks every stored derived key against
// the node, flagging grants that have expired or been revoked on chain
// so permission checks fail before a signed submission would.
type Refresher struct {
	users  core.UserStore
	node   core.NodeClient
	logger *slog.Logger
}

func (w *Refresher) Run(ctx context.Context) error {
	w.logger.Info("refresher start")

	for {
		dur := time.Minute
		if w.run(ctx) == nil {
			dur = 5 * time.Minute
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
		}
	}
}

func (w *Refresher) run(ctx context.Context) error {
	users, err := w.users.All(ctx)
	if err != nil {
		w.logger.Error("users.All", "err", err)
		return err
	}

	for owner, user := range users {
		dk := user.PrimaryDerivedKey
		if dk == nil {
			continue
		}

		status, err := w.node.DerivedKeyStatus(ctx, owner, dk.PublicKey)
		if err != nil {
			w.logger.Error("node.DerivedKeyStatus", "err", err, "owner", owner)
			return err
		}

		changed := dk.Valid != status.Valid
		dk.Valid = status.Valid

		if status.ExpirationBlock > 0 && status.ExpirationBlock != dk.ExpirationBlock {
			dk.ExpirationBlock = status.ExpirationBlock
			changed = true
		}

		if status.Capability != nil {
			dk.Capability = status.Capability
			changed = true
		}

		if !changed {
			continue
		}

		if err := w.users.Put(ctx, owner, user); err != nil {
			w.logger.Error("users.Put", "err", err, "owner", owner)
			return err
		}

		w.logger.Info("derived key status updated", "owner", owner, "valid", dk.Valid, "expiration", dk.ExpirationBlock)
	}

	return nil
}
