package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/codec"
	"github.com/tealdao/derivekit/service/framer"
	"github.com/tealdao/derivekit/store/memory"
	"github.com/tealdao/derivekit/store/user"
	"github.com/tealdao/derivekit/transport/inproc"
)

type fakeNode struct {
	mux sync.Mutex

	height           uint64
	authorizeErr     error
	statusValid      bool
	statusCapability *core.Capability

	authorizeCalls int
	submitCalls    int
	statusCalls    int
}

func (n *fakeNode) EncodeCapability(_ context.Context, c *core.Capability) ([]byte, error) {
	return codec.Encode(c)
}

func (n *fakeNode) DerivedKeyStatus(_ context.Context, owner, derived string) (*core.DerivedKeyStatus, error) {
	n.mux.Lock()
	defer n.mux.Unlock()

	n.statusCalls++
	return &core.DerivedKeyStatus{
		OwnerPublicKey:   owner,
		DerivedPublicKey: derived,
		ExpirationBlock:  5000,
		Valid:            n.statusValid,
		Capability:       n.statusCapability.Clone(),
	}, nil
}

func (n *fakeNode) AuthorizeDerivedKey(_ context.Context, req *core.AuthorizeRequest) (*core.TxnEnvelope, error) {
	n.mux.Lock()
	defer n.mux.Unlock()

	n.authorizeCalls++
	if n.authorizeErr != nil {
		return nil, n.authorizeErr
	}

	return framer.Frame(req.DerivedPublicKey, core.TxnKindAuthorizeDerivedKey, framer.Fields{
		NoncePartialID:  9,
		ExpirationBlock: 100,
	}, 1)
}

func (n *fakeNode) SubmitTransaction(context.Context, []byte) (string, error) {
	n.mux.Lock()
	defer n.mux.Unlock()

	n.submitCalls++
	return "txnhash", nil
}

func (n *fakeNode) CurrentHeight(context.Context) (uint64, error) {
	return n.height, nil
}

func (n *fakeNode) counts() (authorize, submit, status int) {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.authorizeCalls, n.submitCalls, n.statusCalls
}

// echoDerive answers every handshake with a derive grant for the
// requested derived key under the given owner.
func echoDerive(owner string) inproc.PresenterFunc {
	return func(_ context.Context, req *core.HandshakeRequest) (*core.HandshakeResponse, error) {
		return &core.HandshakeResponse{
			Method:           "derive",
			DerivedPublicKey: req.DerivedPublicKey,
			OwnerPublicKey:   owner,
			ExpirationBlock:  4000,
			AccessSignature:  "3045deadbeef",
			CapabilityHex:    req.CapabilityHex,
		}, nil
	}
}

func newService(t *testing.T, node core.NodeClient, presenter inproc.Presenter, cfg Config) (*Service, core.UserStore) {
	t.Helper()

	if cfg.ExpirationDays == 0 {
		cfg.ExpirationDays = 30
	}
	if cfg.FeeRateNanosPerKB == 0 {
		cfg.FeeRateNanosPerKB = 1000
	}

	users := user.New(memory.New())
	svc := New(users, node, inproc.New(presenter), slog.Default(), cfg)
	return svc, users
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not reached in time")
}

func TestLoginAdoptsNewOwner(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100, statusValid: true}
	svc, users := newService(t, node, echoDerive("ownerNew"), Config{})

	got, err := svc.Login(ctx, &core.Capability{
		GlobalValueLimit:  100,
		TransactionCounts: map[core.TxnKind]core.Count{core.TxnKindSubmitPost: 2},
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if !got.PrimaryDerivedKey.Registered {
		t.Fatal("derived key not marked registered after authorization")
	}

	authorize, submit, _ := node.counts()
	if authorize != 1 || submit != 1 {
		t.Fatalf("authorize=%d submit=%d, want 1/1", authorize, submit)
	}

	stored, err := users.Find(ctx, "ownerNew")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.PrimaryDerivedKey.SeedHex == "" {
		t.Fatal("staged seed not attached to adopted record")
	}

	active, err := users.ActivePublicKey(ctx)
	if err != nil {
		t.Fatalf("ActivePublicKey: %v", err)
	}
	if active != "ownerNew" {
		t.Fatalf("active = %q, want ownerNew", active)
	}

	// staged pair removed regardless of outcome
	pair, err := users.StagedLoginKeyPair(ctx)
	if err != nil {
		t.Fatalf("StagedLoginKeyPair: %v", err)
	}
	if pair != nil {
		t.Fatal("login key pair survived the handshake")
	}

	if stored.PrimaryDerivedKey.Capability.TransactionCounts[core.TxnKindSubmitPost] != 2 {
		t.Fatalf("capability drifted: %+v", stored.PrimaryDerivedKey.Capability)
	}
}

func TestLoginRollsBackOnAuthorizeFailure(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100, authorizeErr: fmt.Errorf("broadcast: %w", core.ErrInsufficientFunds)}
	svc, users := newService(t, node, echoDerive("ownerPoor"), Config{})

	_, err := svc.Login(ctx, nil)
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("Login err = %v, want ErrInsufficientFunds", err)
	}

	if _, err := users.Find(ctx, "ownerPoor"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("half-written record survived rollback: %v", err)
	}

	active, err := users.ActivePublicKey(ctx)
	if err != nil {
		t.Fatalf("ActivePublicKey: %v", err)
	}
	if active != "" {
		t.Fatalf("active pointer survived rollback: %q", active)
	}

	pair, err := users.StagedLoginKeyPair(ctx)
	if err != nil {
		t.Fatalf("StagedLoginKeyPair: %v", err)
	}
	if pair != nil {
		t.Fatal("login key pair survived failed handshake")
	}
}

func TestLoginSkipKeepsUnregisteredUser(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100, authorizeErr: fmt.Errorf("broadcast: %w", core.ErrInsufficientFunds)}
	svc, users := newService(t, node, echoDerive("ownerSkip"), Config{ShowSkip: true})

	got, err := svc.Login(ctx, nil)
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("Login err = %v, want ErrInsufficientFunds", err)
	}
	if got == nil {
		t.Fatal("skip affordance did not keep the user")
	}
	if got.PrimaryDerivedKey.Registered {
		t.Fatal("failed authorization left key marked registered")
	}

	stored, err := users.Find(ctx, "ownerSkip")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.PrimaryDerivedKey.Registered {
		t.Fatal("stored record marked registered")
	}
}

func TestDeriveSwitchesToStoredSibling(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100, statusValid: true}
	svc, users := newService(t, node, echoDerive("ownerB"), Config{})

	// ownerB already stored, ownerA active
	if err := users.Put(ctx, "ownerB", &core.User{
		PrimaryDerivedKey: &core.DerivedKey{PublicKey: "derivedB", OwnerPublicKey: "ownerB"},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := users.SetActivePublicKey(ctx, "ownerA"); err != nil {
		t.Fatalf("SetActivePublicKey: %v", err)
	}

	if _, err := svc.Derive(ctx, nil); err != nil {
		t.Fatalf("Derive: %v", err)
	}

	active, err := users.ActivePublicKey(ctx)
	if err != nil {
		t.Fatalf("ActivePublicKey: %v", err)
	}
	if active != "ownerB" {
		t.Fatalf("active = %q, want ownerB", active)
	}

	authorize, submit, _ := node.counts()
	if authorize != 0 || submit != 0 {
		t.Fatalf("switch submitted an authorization: authorize=%d submit=%d", authorize, submit)
	}

	// background refresh fires
	waitFor(t, func() bool {
		_, _, status := node.counts()
		return status > 0
	})
}

func TestSubscribeReplaysSnapshot(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100}
	svc, users := newService(t, node, echoDerive("owner"), Config{})

	if err := users.Put(ctx, "owner", &core.User{PrimaryDerivedKey: &core.DerivedKey{PublicKey: "dk"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := users.SetActivePublicKey(ctx, "owner"); err != nil {
		t.Fatalf("SetActivePublicKey: %v", err)
	}

	var events []*core.Event
	cancel, err := svc.Subscribe(ctx, func(e *core.Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if len(events) != 1 {
		t.Fatalf("replay count = %d, want 1", len(events))
	}

	if events[0].Snapshot.ActivePublicKey != "owner" || events[0].Snapshot.Active == nil {
		t.Fatalf("replayed snapshot drifted: %+v", events[0].Snapshot)
	}
}

func TestHandshakeReplacedRejectsEarlierCaller(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100}

	release := make(chan struct{})
	presenter := inproc.PresenterFunc(func(_ context.Context, req *core.HandshakeRequest) (*core.HandshakeResponse, error) {
		<-release
		return echoDerive("owner")(ctx, req)
	})

	svc, _ := newService(t, node, presenter, Config{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Login(ctx, nil)
		firstErr <- err
	}()

	// wait until the first handshake occupies the pending slot
	waitFor(t, func() bool {
		svc.mux.Lock()
		defer svc.mux.Unlock()
		return svc.pending != nil
	})

	go func() {
		_, _ = svc.Login(ctx, nil)
	}()

	select {
	case err := <-firstErr:
		if !errors.Is(err, core.ErrHandshakeReplaced) {
			t.Fatalf("first caller err = %v, want ErrHandshakeReplaced", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first caller still pending after replacement")
	}

	close(release)
}

func TestTransportCloseRejectsPending(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100}

	blocked := inproc.PresenterFunc(func(ctx context.Context, _ *core.HandshakeRequest) (*core.HandshakeResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	users := user.New(memory.New())
	transport := inproc.New(blocked)
	svc := New(users, node, transport, slog.Default(), Config{ExpirationDays: 30, FeeRateNanosPerKB: 1000})

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Login(ctx, nil)
		errCh <- err
	}()

	waitFor(t, func() bool {
		svc.mux.Lock()
		defer svc.mux.Unlock()
		return svc.pending != nil
	})

	if err := transport.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, core.ErrHandshakeRejected) {
			t.Fatalf("err = %v, want ErrHandshakeRejected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending continuation hung after transport close")
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100}

	presenter := inproc.PresenterFunc(func(context.Context, *core.HandshakeRequest) (*core.HandshakeResponse, error) {
		return &core.HandshakeResponse{Method: "teleport"}, nil
	})

	svc, _ := newService(t, node, presenter, Config{})

	if _, err := svc.Login(ctx, nil); !errors.Is(err, core.ErrUnknownMethod) {
		t.Fatalf("err = %v, want ErrUnknownMethod", err)
	}
}

func TestLogoutPurgesActiveUser(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100}

	presenter := inproc.PresenterFunc(func(context.Context, *core.HandshakeRequest) (*core.HandshakeResponse, error) {
		return &core.HandshakeResponse{Method: "login"}, nil
	})

	svc, users := newService(t, node, presenter, Config{})

	if err := users.Put(ctx, "owner", &core.User{PrimaryDerivedKey: &core.DerivedKey{PublicKey: "dk"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := users.SetActivePublicKey(ctx, "owner"); err != nil {
		t.Fatalf("SetActivePublicKey: %v", err)
	}

	if err := svc.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := users.Find(ctx, "owner"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("record survived logout: %v", err)
	}

	active, err := users.ActivePublicKey(ctx)
	if err != nil {
		t.Fatalf("ActivePublicKey: %v", err)
	}
	if active != "" {
		t.Fatalf("active pointer survived logout: %q", active)
	}
}

func TestLogoutWithoutActiveUser(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 100}
	svc, _ := newService(t, node, echoDerive("owner"), Config{})

	if err := svc.Logout(ctx); !errors.Is(err, core.ErrNoActiveUser) {
		t.Fatalf("err = %v, want ErrNoActiveUser", err)
	}
}

// Background refreshes run concurrently with permission checks, so the
// cached record must never be shared between the two. Fails under the
// race detector if it is.
func TestConcurrentRefreshAndCovers(t *testing.T) {
	ctx := context.Background()
	grant := &core.Capability{
		GlobalValueLimit:  1000,
		TransactionCounts: map[core.TxnKind]core.Count{core.TxnKindSubmitPost: 5},
	}

	node := &fakeNode{height: 100, statusValid: true, statusCapability: grant}
	svc, _ := newService(t, node, echoDerive("ownerRace"), Config{})

	if _, err := svc.Login(ctx, grant); err != nil {
		t.Fatalf("Login: %v", err)
	}

	requested := &core.Capability{
		TransactionCounts: map[core.TxnKind]core.Count{core.TxnKindSubmitPost: 1},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			if err := svc.Refresh(ctx, "ownerRace"); err != nil {
				t.Errorf("Refresh: %v", err)
			}
		}()

		go func() {
			defer wg.Done()
			if _, err := svc.Covers(ctx, requested); err != nil {
				t.Errorf("Covers: %v", err)
			}
		}()
	}
	wg.Wait()

	ok, err := svc.Covers(ctx, requested)
	if err != nil {
		t.Fatalf("Covers: %v", err)
	}
	if !ok {
		t.Fatal("grant lost under concurrent refresh")
	}
}

func TestSignAndSubmitGatedByGrant(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{height: 700, statusValid: true}
	svc, users := newService(t, node, echoDerive("owner"), Config{})

	login, err := svc.Login(ctx, &core.Capability{
		GlobalValueLimit:  1000,
		TransactionCounts: map[core.TxnKind]core.Count{core.TxnKindSubmitPost: 1},
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	fields := framer.Fields{Payload: []byte("post body"), NoncePartialID: 4}

	hash, err := svc.SignAndSubmit(ctx, core.TxnKindSubmitPost, fields)
	if err != nil {
		t.Fatalf("SignAndSubmit: %v", err)
	}
	if hash == "" {
		t.Fatal("no txn hash returned")
	}

	if _, err := svc.SignAndSubmit(ctx, core.TxnKindFollow, fields); !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("ungranted kind err = %v, want ErrPermissionDenied", err)
	}

	ok, err := svc.Covers(ctx, &core.Capability{
		TransactionCounts: map[core.TxnKind]core.Count{core.TxnKindSubmitPost: 1},
	})
	if err != nil {
		t.Fatalf("Covers: %v", err)
	}
	if !ok {
		t.Fatal("granted kind reported uncovered")
	}

	if login.PrimaryDerivedKey.PublicKey == "" {
		t.Fatal("login lost derived key")
	}

	if _, err := users.Find(ctx, "owner"); err != nil {
		t.Fatalf("Find: %v", err)
	}
}
