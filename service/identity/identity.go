// Package identity orchestrates derived-key authorization: it drives
// the handshake with the isolated identity origin, persists the
// resulting grant, gates submissions behind the cached capability set
// and keeps subscribers informed of every transition.
package identity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/asaskevich/govalidator"
	"golang.org/x/sync/singleflight"

	"github.com/tealdao/derivekit/core"
)

type Config struct {
	// ExpirationDays is the grant lifetime requested from the identity
	// origin.
	ExpirationDays uint64 `valid:"required"`

	// FeeRateNanosPerKB prices framed and authorization transactions.
	FeeRateNanosPerKB uint64 `valid:"required"`

	// ShowSkip offers the skip affordance during authorization: an
	// on-chain failure keeps the user logged in unregistered instead
	// of rolling the login back.
	ShowSkip bool
}

func New(
	users core.UserStore,
	node core.NodeClient,
	transport core.Transport,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	if users == nil {
		panic(core.ErrNoStorageProvider)
	}

	return &Service{
		users:     users,
		node:      node,
		transport: transport,
		logger:    logger.With("service", "identity"),
		cfg:       cfg,
		subs:      map[uint64]func(*core.Event){},
	}
}

type Service struct {
	users     core.UserStore
	node      core.NodeClient
	transport core.Transport
	logger    *slog.Logger
	cfg       Config

	mux     sync.Mutex
	pending *pendingRequest
	subs    map[uint64]func(*core.Event)
	nextSub uint64

	sf singleflight.Group
}

type handshakeResult struct {
	resp *core.HandshakeResponse
	err  error
}

// pendingRequest is the single live continuation slot. Starting a new
// handshake while one is outstanding rejects the earlier caller with
// ErrHandshakeReplaced.
type pendingRequest struct {
	kind core.EventKind
	done chan handshakeResult
}

// Snapshot assembles the current state: the active user plus siblings.
func (s *Service) Snapshot(ctx context.Context) (*core.Snapshot, error) {
	users, err := s.users.All(ctx)
	if err != nil {
		return nil, err
	}

	active, err := s.users.ActivePublicKey(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &core.Snapshot{
		ActivePublicKey: active,
		Users:           users,
	}

	if active != "" {
		snapshot.Active = users[active]
	}

	return snapshot, nil
}

// ActiveUser returns the logged-in record or ErrNoActiveUser.
func (s *Service) ActiveUser(ctx context.Context) (string, *core.User, error) {
	active, err := s.users.ActivePublicKey(ctx)
	if err != nil {
		return "", nil, err
	}

	if active == "" {
		return "", nil, core.ErrNoActiveUser
	}

	user, err := s.users.Find(ctx, active)
	if err != nil {
		return "", nil, err
	}

	return active, user, nil
}

// Subscribe registers fn for every transition and replays the current
// snapshot once immediately. The returned func unsubscribes.
func (s *Service) Subscribe(ctx context.Context, fn func(*core.Event)) (func(), error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.mux.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mux.Unlock()

	fn(&core.Event{Kind: core.EventRefresh, Snapshot: snapshot})

	return func() {
		s.mux.Lock()
		delete(s.subs, id)
		s.mux.Unlock()
	}, nil
}

func (s *Service) notify(ctx context.Context, kind core.EventKind) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Error("snapshot for notify", "kind", kind.String(), "err", err)
		return
	}

	event := &core.Event{Kind: kind, Snapshot: snapshot}

	s.mux.Lock()
	fns := make([]func(*core.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mux.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

// SwitchUser moves the active pointer to an already-stored owner and
// refreshes its grant in the background.
func (s *Service) SwitchUser(ctx context.Context, ownerPublicKey string) error {
	if _, err := s.users.Find(ctx, ownerPublicKey); err != nil {
		return err
	}

	if err := s.users.SetActivePublicKey(ctx, ownerPublicKey); err != nil {
		return err
	}

	s.backgroundRefresh(ownerPublicKey)
	s.notify(ctx, core.EventSwitch)
	return nil
}

func (s *Service) startHandshake(ctx context.Context, kind core.EventKind, req *core.HandshakeRequest) (*core.HandshakeResponse, error) {
	p := &pendingRequest{kind: kind, done: make(chan handshakeResult, 1)}

	s.mux.Lock()
	if prev := s.pending; prev != nil {
		s.logger.Warn("pending handshake replaced", "previous", prev.kind.String(), "next", kind.String())
		prev.done <- handshakeResult{err: core.ErrHandshakeReplaced}
	}
	s.pending = p
	s.mux.Unlock()

	// The listener attaches lazily per handshake; transports detach it
	// after one delivery so responses are never dispatched twice.
	s.transport.Listen(func(resp *core.HandshakeResponse, err error) {
		s.mux.Lock()
		if s.pending != p {
			s.mux.Unlock()
			return
		}
		s.pending = nil
		s.mux.Unlock()

		p.done <- handshakeResult{resp: resp, err: err}
	})

	if err := s.transport.Send(ctx, req); err != nil {
		s.clearPending(p)
		return nil, err
	}

	select {
	case <-ctx.Done():
		s.clearPending(p)
		return nil, ctx.Err()
	case r := <-p.done:
		if r.err != nil {
			return nil, r.err
		}
		return r.resp, nil
	}
}

func (s *Service) clearPending(p *pendingRequest) {
	s.mux.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mux.Unlock()
}
