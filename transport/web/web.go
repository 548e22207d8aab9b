// Package web carries the handshake over a loopback callback: the
// host opens the identity origin in a browser with the request encoded
// in query parameters, and the origin posts the response back to a
// local callback endpoint.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/tealdao/derivekit/core"
)

type Config struct {
	// IdentityURL is the isolated identity origin, e.g.
	// https://identity.example/derive.
	IdentityURL string

	// Addr is the loopback listen address for the callback endpoint.
	Addr string

	// OpenURL surfaces the handshake URL to the user: launch a
	// browser, print it, render a QR. Required.
	OpenURL func(url string) error
}

func New(cfg Config) (core.Transport, error) {
	if cfg.IdentityURL == "" || cfg.OpenURL == nil {
		return nil, fmt.Errorf("web transport: identity url and open func required")
	}

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:18592"
	}

	t := &transport{cfg: cfg}

	m := chi.NewMux()
	m.Use(cors.AllowAll().Handler)
	m.Post("/callback", t.handleCallback)

	t.svr = &http.Server{Addr: cfg.Addr, Handler: m}
	return t, nil
}

type transport struct {
	cfg Config
	svr *http.Server

	mux     sync.Mutex
	fn      core.ListenFunc
	state   string
	started bool
	closed  bool
}

func (t *transport) Listen(fn core.ListenFunc) {
	t.mux.Lock()
	t.fn = fn
	t.mux.Unlock()
}

func (t *transport) Send(_ context.Context, req *core.HandshakeRequest) error {
	t.mux.Lock()
	if t.closed {
		t.mux.Unlock()
		return core.ErrHandshakeRejected
	}

	t.state = req.ID
	start := !t.started
	t.started = true
	t.mux.Unlock()

	if start {
		go func() {
			if err := t.svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				t.deliver(nil, fmt.Errorf("%w: %v", core.ErrHandshakeRejected, err))
			}
		}()
	}

	return t.cfg.OpenURL(t.buildURL(req))
}

func (t *transport) Close() error {
	t.mux.Lock()
	t.closed = true
	started := t.started
	t.mux.Unlock()

	t.deliver(nil, core.ErrHandshakeRejected)

	if started {
		return t.svr.Shutdown(context.Background())
	}

	return nil
}

func (t *transport) buildURL(req *core.HandshakeRequest) string {
	q := url.Values{}
	q.Set("state", req.ID)
	q.Set("callback", "http://"+t.cfg.Addr+"/callback")

	if req.Derive {
		q.Set("derive", "true")
	}
	if req.Logout {
		q.Set("logout", "true")
	}
	if req.DerivedPublicKey != "" {
		q.Set("derivedPublicKey", req.DerivedPublicKey)
	}
	if req.CapabilityHex != "" {
		q.Set("transactionSpendingLimitResponse", req.CapabilityHex)
	}
	if req.ExpirationDays > 0 {
		q.Set("expirationDays", strconv.FormatUint(req.ExpirationDays, 10))
	}
	if req.GetFreeFunds {
		q.Set("getFreeDeso", "true")
	}
	if req.ShowSkip {
		q.Set("showSkip", "true")
	}

	return t.cfg.IdentityURL + "?" + q.Encode()
}

func (t *transport) handleCallback(w http.ResponseWriter, r *http.Request) {
	t.mux.Lock()
	state := t.state
	t.mux.Unlock()

	if got := r.URL.Query().Get("state"); got != state || state == "" {
		http.Error(w, "unknown handshake state", http.StatusForbidden)
		return
	}

	var resp core.HandshakeResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	t.deliver(&resp, nil)
}

func (t *transport) deliver(resp *core.HandshakeResponse, err error) {
	t.mux.Lock()
	fn := t.fn
	t.fn = nil
	t.state = ""
	t.mux.Unlock()

	if fn != nil {
		fn(resp, err)
	}
}
