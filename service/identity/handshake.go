package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/codec"
	"github.com/tealdao/derivekit/service/framer"
	"github.com/tealdao/derivekit/service/keys"
	"github.com/tealdao/derivekit/store"
)

// Login opens a derive handshake for a fresh session. capability may
// be nil, letting the identity origin apply its default grant.
func (s *Service) Login(ctx context.Context, capability *core.Capability) (*core.User, error) {
	return s.derive(ctx, core.EventLogin, capability, false)
}

// Derive requests a new or widened grant for the current session.
func (s *Service) Derive(ctx context.Context, capability *core.Capability) (*core.User, error) {
	return s.derive(ctx, core.EventDerive, capability, false)
}

// GetFreeFunds asks the identity origin to seed the account, then
// re-authorizes the grant on-chain.
func (s *Service) GetFreeFunds(ctx context.Context) (*core.User, error) {
	return s.derive(ctx, core.EventAuthorize, nil, true)
}

// Logout asks the identity origin to end the session, then purges the
// active record.
func (s *Service) Logout(ctx context.Context) error {
	active, _, err := s.ActiveUser(ctx)
	if err != nil {
		return err
	}

	req := &core.HandshakeRequest{
		ID:     uuid.NewString(),
		Logout: true,
	}

	resp, err := s.startHandshake(ctx, core.EventLogout, req)
	if err != nil {
		return err
	}

	if resp.Method != "login" || resp.PublicKeyAdded != "" {
		return fmt.Errorf("%w: expected logout confirmation, got method %q", core.ErrUnknownPayloadKind, resp.Method)
	}

	return s.purgeUser(ctx, active)
}

func (s *Service) purgeUser(ctx context.Context, ownerPublicKey string) error {
	if err := s.users.Delete(ctx, ownerPublicKey); err != nil {
		return err
	}

	if err := s.users.ClearLoginKeyPair(ctx); err != nil {
		s.logger.Error("clear login key pair", "err", err)
	}

	// hand the active pointer to a surviving sibling, if any
	next := ""
	if users, err := s.users.All(ctx); err == nil {
		for pub := range users {
			next = pub
			break
		}
	}

	if err := s.users.SetActivePublicKey(ctx, next); err != nil {
		return err
	}

	s.notify(ctx, core.EventLogout)
	return nil
}

func (s *Service) derive(ctx context.Context, kind core.EventKind, capability *core.Capability, freeFunds bool) (*core.User, error) {
	pair, err := keys.GeneratePair()
	if err != nil {
		return nil, err
	}

	if err := s.users.StageLoginKeyPair(ctx, pair); err != nil {
		return nil, err
	}

	// staged material never outlives the handshake, whatever happens
	defer func() {
		if err := s.users.ClearLoginKeyPair(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("clear login key pair", "err", err)
		}
	}()

	var capabilityHex string
	if capability != nil {
		// the node's encoding is authoritative; abort if unavailable
		encoded, err := s.node.EncodeCapability(ctx, capability)
		if err != nil {
			return nil, fmt.Errorf("encode capability: %w", err)
		}

		capabilityHex = hex.EncodeToString(encoded)
	}

	req := &core.HandshakeRequest{
		ID:               uuid.NewString(),
		Derive:           true,
		DerivedPublicKey: pair.PublicKey,
		CapabilityHex:    capabilityHex,
		ExpirationDays:   s.cfg.ExpirationDays,
		GetFreeFunds:     freeFunds,
		ShowSkip:         s.cfg.ShowSkip,
	}

	resp, err := s.startHandshake(ctx, kind, req)
	if err != nil {
		return nil, err
	}

	switch resp.Method {
	case "derive":
		return s.handleDerive(ctx, resp)
	case "login":
		return s.handleLogin(ctx, resp)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMethod, resp.Method)
	}
}

// handleDerive applies one of the three grant outcomes: merge and
// re-authorize for the active user, switch to a stored sibling, or
// adopt a brand-new owner from the staged login key pair.
func (s *Service) handleDerive(ctx context.Context, resp *core.HandshakeResponse) (*core.User, error) {
	if resp.DerivedPublicKey == "" || resp.OwnerPublicKey == "" {
		return nil, fmt.Errorf("%w: derive response missing keys", core.ErrUnknownPayloadKind)
	}

	dk := &core.DerivedKey{
		PublicKey:       resp.DerivedPublicKey,
		OwnerPublicKey:  resp.OwnerPublicKey,
		SeedHex:         resp.DerivedSeedHex,
		ExpirationBlock: resp.ExpirationBlock,
		AccessSignature: resp.AccessSignature,
		CapabilityHex:   resp.CapabilityHex,
	}

	if resp.CapabilityHex != "" {
		capability, err := codec.DecodeHex(resp.CapabilityHex)
		if err != nil {
			return nil, fmt.Errorf("%w: bad capability hex: %v", core.ErrUnknownPayloadKind, err)
		}
		dk.Capability = capability
	}

	active, err := s.users.ActivePublicKey(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.users.Find(ctx, resp.OwnerPublicKey)
	switch {
	case err == nil && resp.OwnerPublicKey == active:
		return s.mergeActiveGrant(ctx, existing, dk)

	case err == nil:
		// stored but not active: switch the pointer and refresh in the
		// background, no on-chain step
		if err := s.users.SetActivePublicKey(ctx, resp.OwnerPublicKey); err != nil {
			return nil, err
		}

		s.backgroundRefresh(resp.OwnerPublicKey)
		s.notify(ctx, core.EventSwitch)
		return existing, nil

	case store.IsErrNotFound(err):
		return s.adoptNewOwner(ctx, dk, active)

	default:
		return nil, err
	}
}

func (s *Service) mergeActiveGrant(ctx context.Context, existing *core.User, dk *core.DerivedKey) (*core.User, error) {
	if prev := existing.PrimaryDerivedKey; prev != nil && dk.SeedHex == "" && prev.PublicKey == dk.PublicKey {
		dk.SeedHex = prev.SeedHex
	}

	if dk.SeedHex == "" {
		if staged, err := s.users.StagedLoginKeyPair(ctx); err == nil && staged != nil && staged.PublicKey == dk.PublicKey {
			dk.SeedHex = staged.SeedHex
		}
	}

	user := &core.User{PrimaryDerivedKey: dk}
	if err := s.authorize(ctx, dk); err != nil {
		return nil, err
	}

	dk.Registered = true
	dk.Valid = true
	if err := s.users.Put(ctx, dk.OwnerPublicKey, user); err != nil {
		return nil, err
	}

	s.backgroundRefresh(dk.OwnerPublicKey)
	s.notify(ctx, core.EventDerive)
	return user, nil
}

func (s *Service) adoptNewOwner(ctx context.Context, dk *core.DerivedKey, previousActive string) (*core.User, error) {
	if staged, err := s.users.StagedLoginKeyPair(ctx); err == nil && staged != nil && staged.PublicKey == dk.PublicKey {
		dk.SeedHex = staged.SeedHex
	}

	if dk.SeedHex == "" {
		return nil, fmt.Errorf("%w: no seed material for derived key", core.ErrUnknownPayloadKind)
	}

	user := &core.User{PrimaryDerivedKey: dk}
	if err := s.users.Put(ctx, dk.OwnerPublicKey, user); err != nil {
		return nil, err
	}

	if err := s.users.SetActivePublicKey(ctx, dk.OwnerPublicKey); err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, dk); err != nil {
		if s.cfg.ShowSkip && errors.Is(err, core.ErrInsufficientFunds) {
			// caller opted into skip: stay logged in, unregistered
			dk.Registered = false
			if perr := s.users.Put(ctx, dk.OwnerPublicKey, user); perr != nil {
				s.logger.Error("persist unregistered user", "err", perr)
			}

			s.notify(ctx, core.EventLogin)
			return user, err
		}

		// roll back the half-written login before rejecting
		if derr := s.users.Delete(ctx, dk.OwnerPublicKey); derr != nil {
			s.logger.Error("rollback user record", "err", derr)
		}
		if aerr := s.users.SetActivePublicKey(ctx, previousActive); aerr != nil {
			s.logger.Error("rollback active pointer", "err", aerr)
		}

		return nil, err
	}

	dk.Registered = true
	dk.Valid = true
	if err := s.users.Put(ctx, dk.OwnerPublicKey, user); err != nil {
		return nil, err
	}

	s.notify(ctx, core.EventLogin)
	return user, nil
}

// handleLogin covers the two login-method payloads: an empty
// PublicKeyAdded is a logout, a not-signed-up key matching the active
// user is a free-funds grant needing on-chain authorization.
func (s *Service) handleLogin(ctx context.Context, resp *core.HandshakeResponse) (*core.User, error) {
	active, err := s.users.ActivePublicKey(ctx)
	if err != nil {
		return nil, err
	}

	if resp.PublicKeyAdded == "" {
		if active == "" {
			return nil, core.ErrNoActiveUser
		}

		return nil, s.purgeUser(ctx, active)
	}

	if !resp.SignedUp && resp.PublicKeyAdded == active {
		user, err := s.users.Find(ctx, active)
		if err != nil {
			return nil, err
		}

		dk := user.PrimaryDerivedKey
		if dk == nil {
			return nil, fmt.Errorf("%w: active user has no derived key", core.ErrUnknownPayloadKind)
		}

		if err := s.authorize(ctx, dk); err != nil {
			return nil, err
		}

		dk.Registered = true
		if err := s.users.Put(ctx, active, user); err != nil {
			return nil, err
		}

		s.notify(ctx, core.EventAuthorize)
		return user, nil
	}

	return nil, fmt.Errorf("%w: unexpected login payload for %q", core.ErrUnknownPayloadKind, resp.PublicKeyAdded)
}

// authorize submits the access signature and capability encoding to
// the node, then signs and submits the resulting transaction with the
// derived key itself.
func (s *Service) authorize(ctx context.Context, dk *core.DerivedKey) error {
	txn, err := s.node.AuthorizeDerivedKey(ctx, &core.AuthorizeRequest{
		OwnerPublicKey:    dk.OwnerPublicKey,
		DerivedPublicKey:  dk.PublicKey,
		ExpirationBlock:   dk.ExpirationBlock,
		AccessSignature:   dk.AccessSignature,
		CapabilityHex:     dk.CapabilityHex,
		FeeRateNanosPerKB: s.cfg.FeeRateNanosPerKB,
	})
	if err != nil {
		return err
	}

	signer, err := keys.SignerFromSeedHex(dk.SeedHex)
	if err != nil {
		return err
	}

	signed, err := framer.SignedBytes(txn, signer)
	if err != nil {
		return err
	}

	hash, err := s.node.SubmitTransaction(ctx, signed)
	if err != nil {
		return err
	}

	s.logger.Info("derived key authorized", "owner", dk.OwnerPublicKey, "derived", dk.PublicKey, "txn", hash)
	return nil
}
