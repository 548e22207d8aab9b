package user

import (
	"context"
	"errors"
	"testing"

	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/store/memory"
)

func newStore() core.UserStore {
	return New(memory.New())
}

func TestPutFindDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	u := &core.User{
		PrimaryDerivedKey: &core.DerivedKey{
			PublicKey:       "derivedKey",
			OwnerPublicKey:  "ownerKey",
			ExpirationBlock: 99,
			Registered:      true,
		},
	}

	if err := s.Put(ctx, "ownerKey", u); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Find(ctx, "ownerKey")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	if got.PrimaryDerivedKey.PublicKey != "derivedKey" || !got.PrimaryDerivedKey.Registered {
		t.Fatalf("record drifted: %+v", got.PrimaryDerivedKey)
	}

	// cached read must return the same record
	again, err := s.Find(ctx, "ownerKey")
	if err != nil {
		t.Fatalf("Find cached: %v", err)
	}
	if again.PrimaryDerivedKey.PublicKey != "derivedKey" {
		t.Fatalf("cached record drifted: %+v", again.PrimaryDerivedKey)
	}

	if err := s.Delete(ctx, "ownerKey"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.Find(ctx, "ownerKey"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("Find after delete: %v, want ErrUserNotFound", err)
	}
}

func TestPutSupersedesRecord(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	if err := s.Put(ctx, "owner", &core.User{PrimaryDerivedKey: &core.DerivedKey{PublicKey: "old"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.Find(ctx, "owner"); err != nil {
		t.Fatalf("Find: %v", err)
	}

	if err := s.Put(ctx, "owner", &core.User{PrimaryDerivedKey: &core.DerivedKey{PublicKey: "new"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Find(ctx, "owner")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	if got.PrimaryDerivedKey.PublicKey != "new" {
		t.Fatalf("stale record served after supersede: %+v", got.PrimaryDerivedKey)
	}
}

func TestActivePointer(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	key, err := s.ActivePublicKey(ctx)
	if err != nil {
		t.Fatalf("ActivePublicKey: %v", err)
	}
	if key != "" {
		t.Fatalf("fresh store has active key %q", key)
	}

	if err := s.SetActivePublicKey(ctx, "ownerA"); err != nil {
		t.Fatalf("SetActivePublicKey: %v", err)
	}

	key, err = s.ActivePublicKey(ctx)
	if err != nil {
		t.Fatalf("ActivePublicKey: %v", err)
	}
	if key != "ownerA" {
		t.Fatalf("active key = %q, want ownerA", key)
	}

	if err := s.SetActivePublicKey(ctx, ""); err != nil {
		t.Fatalf("clear active: %v", err)
	}

	key, err = s.ActivePublicKey(ctx)
	if err != nil {
		t.Fatalf("ActivePublicKey: %v", err)
	}
	if key != "" {
		t.Fatalf("active key survives clear: %q", key)
	}
}

func TestLoginKeyPairLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	pair, err := s.StagedLoginKeyPair(ctx)
	if err != nil {
		t.Fatalf("StagedLoginKeyPair: %v", err)
	}
	if pair != nil {
		t.Fatalf("fresh store has staged pair %+v", pair)
	}

	if err := s.StageLoginKeyPair(ctx, &core.KeyPair{PublicKey: "pub", SeedHex: "seed"}); err != nil {
		t.Fatalf("StageLoginKeyPair: %v", err)
	}

	pair, err = s.StagedLoginKeyPair(ctx)
	if err != nil {
		t.Fatalf("StagedLoginKeyPair: %v", err)
	}
	if pair == nil || pair.SeedHex != "seed" {
		t.Fatalf("staged pair drifted: %+v", pair)
	}

	if err := s.ClearLoginKeyPair(ctx); err != nil {
		t.Fatalf("ClearLoginKeyPair: %v", err)
	}

	pair, err = s.StagedLoginKeyPair(ctx)
	if err != nil {
		t.Fatalf("StagedLoginKeyPair: %v", err)
	}
	if pair != nil {
		t.Fatalf("staged pair survives clear: %+v", pair)
	}
}

func TestCapabilityRoundTripsThroughStore(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	capability := &core.Capability{
		GlobalValueLimit: 777,
		TransactionCounts: map[core.TxnKind]core.Count{
			core.TxnKindSubmitPost: 2,
		},
		CoinOps: map[core.CoinScope]core.Count{
			{Creator: "creatorKey", Op: core.CoinOpBuy}: 3,
			{Op: core.CoinOpAny}:                        5,
		},
	}

	if err := s.Put(ctx, "owner", &core.User{
		PrimaryDerivedKey: &core.DerivedKey{PublicKey: "derived", Capability: capability},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Find(ctx, "owner")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	gotCap := got.PrimaryDerivedKey.Capability
	if gotCap.GlobalValueLimit != 777 {
		t.Fatalf("global limit drifted: %d", gotCap.GlobalValueLimit)
	}

	if gotCap.CoinOps[core.CoinScope{Creator: "creatorKey", Op: core.CoinOpBuy}] != 3 {
		t.Fatalf("scoped counter drifted: %+v", gotCap.CoinOps)
	}

	if gotCap.CoinOps[core.CoinScope{Op: core.CoinOpAny}] != 5 {
		t.Fatalf("wildcard counter drifted: %+v", gotCap.CoinOps)
	}
}

func TestFindReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	if err := s.Put(ctx, "owner", &core.User{
		PrimaryDerivedKey: &core.DerivedKey{
			PublicKey: "derived",
			Valid:     true,
			Capability: &core.Capability{
				GlobalValueLimit: 100,
				TransactionCounts: map[core.TxnKind]core.Count{
					core.TxnKindSubmitPost: 2,
				},
			},
		},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	a, err := s.Find(ctx, "owner")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	a.PrimaryDerivedKey.Valid = false
	a.PrimaryDerivedKey.Capability.GlobalValueLimit = 0
	a.PrimaryDerivedKey.Capability.TransactionCounts[core.TxnKindSubmitPost] = 0

	b, err := s.Find(ctx, "owner")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	if a == b || a.PrimaryDerivedKey == b.PrimaryDerivedKey {
		t.Fatal("Find handed out a shared record")
	}

	if !b.PrimaryDerivedKey.Valid {
		t.Fatal("mutation of one copy leaked into another")
	}

	if b.PrimaryDerivedKey.Capability.GlobalValueLimit != 100 ||
		b.PrimaryDerivedKey.Capability.TransactionCounts[core.TxnKindSubmitPost] != 2 {
		t.Fatalf("capability mutation leaked: %+v", b.PrimaryDerivedKey.Capability)
	}
}
