// Package inproc adapts an injected presenter into the handshake
// transport. Hosts that already own a UI surface to the identity
// origin implement Presenter; the orchestrator stays transport
// agnostic.
package inproc

import (
	"context"
	"sync"

	"github.com/tealdao/derivekit/core"
)

// Presenter surfaces one handshake request to the identity origin and
// blocks until it responds or fails.
type Presenter interface {
	Present(ctx context.Context, req *core.HandshakeRequest) (*core.HandshakeResponse, error)
}

// PresenterFunc adapts a plain function to Presenter.
type PresenterFunc func(ctx context.Context, req *core.HandshakeRequest) (*core.HandshakeResponse, error)

func (f PresenterFunc) Present(ctx context.Context, req *core.HandshakeRequest) (*core.HandshakeResponse, error) {
	return f(ctx, req)
}

func New(presenter Presenter) core.Transport {
	return &transport{presenter: presenter}
}

type transport struct {
	presenter Presenter

	mux    sync.Mutex
	fn     core.ListenFunc
	reqID  string
	closed bool
}

func (t *transport) Listen(fn core.ListenFunc) {
	t.mux.Lock()
	t.fn = fn
	t.mux.Unlock()
}

func (t *transport) Send(ctx context.Context, req *core.HandshakeRequest) error {
	t.mux.Lock()
	if t.closed {
		t.mux.Unlock()
		return core.ErrHandshakeRejected
	}
	t.reqID = req.ID
	t.mux.Unlock()

	go func() {
		resp, err := t.presenter.Present(ctx, req)
		t.deliver(req.ID, resp, err)
	}()

	return nil
}

func (t *transport) Close() error {
	t.mux.Lock()
	t.closed = true
	fn := t.fn
	t.fn = nil
	t.reqID = ""
	t.mux.Unlock()

	if fn != nil {
		fn(nil, core.ErrHandshakeRejected)
	}

	return nil
}

// deliver hands the outcome to the registered listener exactly once,
// detaching it first so a late presenter cannot double-fire. Outcomes
// for anything but the live request ID are dropped: a presenter that
// finishes after its handshake was replaced must not resolve the
// replacement's.
func (t *transport) deliver(reqID string, resp *core.HandshakeResponse, err error) {
	t.mux.Lock()
	if reqID != t.reqID {
		t.mux.Unlock()
		return
	}

	fn := t.fn
	t.fn = nil
	t.reqID = ""
	t.mux.Unlock()

	if fn != nil {
		fn(resp, err)
	}
}
