package identity

import (
	"context"
	"fmt"

	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/framer"
	"github.com/tealdao/derivekit/service/keys"
	"github.com/tealdao/derivekit/service/permit"
)

// Covers reports synchronously whether the active user's cached grant
// covers the requested capability set. No network access.
func (s *Service) Covers(ctx context.Context, requested *core.Capability) (bool, error) {
	_, user, err := s.ActiveUser(ctx)
	if err != nil {
		return false, err
	}

	if user.PrimaryDerivedKey == nil {
		return false, nil
	}

	return permit.Covered(requested, user.PrimaryDerivedKey.Capability), nil
}

// SignAndSubmit gates the action behind the cached grant, frames it,
// signs it with the derived key and submits it, refreshing permissions
// in the background afterwards.
func (s *Service) SignAndSubmit(ctx context.Context, kind core.TxnKind, fields framer.Fields) (string, error) {
	active, user, err := s.ActiveUser(ctx)
	if err != nil {
		return "", err
	}

	dk := user.PrimaryDerivedKey
	if dk == nil || dk.SeedHex == "" {
		return "", core.ErrNoActiveUser
	}

	var value uint64
	for _, out := range fields.Outputs {
		value += out.AmountNanos
	}

	if !permit.CoveredKind(kind, value, dk.Capability) {
		return "", fmt.Errorf("%w: %s for %d nanos", core.ErrPermissionDenied, kind.String(), value)
	}

	height, err := s.node.CurrentHeight(ctx)
	if err != nil {
		return "", err
	}

	txn, err := framer.Frame(dk.PublicKey, kind, fields, height)
	if err != nil {
		return "", err
	}

	if _, err := framer.ComputeFee(txn, s.cfg.FeeRateNanosPerKB); err != nil {
		return "", err
	}

	signer, err := keys.SignerFromSeedHex(dk.SeedHex)
	if err != nil {
		return "", err
	}

	signed, err := framer.SignedBytes(txn, signer)
	if err != nil {
		return "", err
	}

	hash, err := s.node.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", err
	}

	s.backgroundRefresh(active)
	s.logger.Info("transaction submitted", "kind", kind.String(), "txn", hash, "fee", txn.FeeNanos)
	return hash, nil
}

// Preview frames and prices the transaction without touching the
// network beyond the cached height: a deterministic dry run when the
// nonce is pinned.
func (s *Service) Preview(ctx context.Context, kind core.TxnKind, fields framer.Fields, currentHeight uint64) (*core.TxnEnvelope, []byte, error) {
	_, user, err := s.ActiveUser(ctx)
	if err != nil {
		return nil, nil, err
	}

	dk := user.PrimaryDerivedKey
	if dk == nil {
		return nil, nil, core.ErrNoActiveUser
	}

	txn, err := framer.Frame(dk.PublicKey, kind, fields, currentHeight)
	if err != nil {
		return nil, nil, err
	}

	raw, err := framer.ComputeFee(txn, s.cfg.FeeRateNanosPerKB)
	if err != nil {
		return nil, nil, err
	}

	return txn, raw, nil
}
