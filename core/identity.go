package core

import "context"

type EventKind uint8

const (
	_ EventKind = iota
	EventLogin
	EventLogout
	EventDerive
	EventSwitch
	EventAuthorize
	EventRefresh
)

func (k EventKind) String() string {
	switch k {
	case EventLogin:
		return "login"
	case EventLogout:
		return "logout"
	case EventDerive:
		return "derive"
	case EventSwitch:
		return "switch"
	case EventAuthorize:
		return "authorize"
	case EventRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on every orchestrator transition.
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot *Snapshot `json:"snapshot"`
}

// HandshakeRequest is the outbound payload opened against the isolated
// identity origin.
type HandshakeRequest struct {
	ID               string `json:"id"`
	Derive           bool   `json:"derive"`
	DerivedPublicKey string `json:"derivedPublicKey,omitempty"`
	CapabilityHex    string `json:"transactionSpendingLimitResponse,omitempty"`
	ExpirationDays   uint64 `json:"expirationDays,omitempty"`
	Logout           bool   `json:"logout,omitempty"`
	GetFreeFunds     bool   `json:"getFreeDeso,omitempty"`
	ShowSkip         bool   `json:"showSkip,omitempty"`
}

// HandshakeResponse is the inbound message from the identity origin.
// Method "derive" carries a grant; method "login" with an empty
// PublicKeyAdded signals a logout.
type HandshakeResponse struct {
	Method           string `json:"method"`
	DerivedPublicKey string `json:"derivedPublicKeyBase58Check,omitempty"`
	OwnerPublicKey   string `json:"publicKeyBase58Check,omitempty"`
	ExpirationBlock  uint64 `json:"expirationBlock,omitempty"`
	AccessSignature  string `json:"accessSignature,omitempty"`
	CapabilityHex    string `json:"transactionSpendingLimitHex,omitempty"`
	DerivedSeedHex   string `json:"derivedSeedHex,omitempty"`
	SignedUp         bool   `json:"signedUp,omitempty"`
	PublicKeyAdded   string `json:"publicKeyAdded,omitempty"`
}

// ListenFunc receives exactly one handshake outcome: a response, or a
// terminal error if the transport was closed underneath the caller.
type ListenFunc func(resp *HandshakeResponse, err error)

// Transport carries one handshake at a time to the identity origin.
// Listeners attach lazily and are detached after a single delivery to
// avoid duplicate dispatch.
type Transport interface {
	Send(ctx context.Context, req *HandshakeRequest) error
	Listen(fn ListenFunc)
	Close() error
}
