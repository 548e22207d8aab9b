package core

import "context"

// KeyPair is freshly generated key material staged in storage while a
// login handshake is in flight.
type KeyPair struct {
	PublicKey string `json:"public_key"`
	SeedHex   string `json:"seed_hex"`
}

// DerivedKey is the ephemeral signing key an owner delegated limited
// rights to. It is superseded, never mutated in place, when its scope
// changes.
type DerivedKey struct {
	PublicKey        string      `json:"derivedPublicKeyBase58Check"`
	OwnerPublicKey   string      `json:"publicKeyBase58Check"`
	SeedHex          string      `json:"derivedSeedHex,omitempty"`
	ExpirationBlock  uint64      `json:"expirationBlock"`
	AccessSignature  string      `json:"accessSignature"`
	Capability       *Capability `json:"transactionSpendingLimit,omitempty"`
	CapabilityHex    string      `json:"transactionSpendingLimitHex,omitempty"`
	Registered       bool        `json:"registered"`
	Valid            bool        `json:"valid"`
}

// Clone returns a deep copy, including the capability set.
func (k *DerivedKey) Clone() *DerivedKey {
	if k == nil {
		return nil
	}

	out := *k
	out.Capability = k.Capability.Clone()
	return &out
}

// User is the stored record for one owner account.
type User struct {
	PrimaryDerivedKey *DerivedKey `json:"primaryDerivedKey"`
}

// Clone returns a deep copy so two holders never mutate the same
// record.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}

	return &User{PrimaryDerivedKey: u.PrimaryDerivedKey.Clone()}
}

// Snapshot is what subscribers receive on every transition: the active
// user plus its siblings, keyed by owner public key.
type Snapshot struct {
	ActivePublicKey string           `json:"active_public_key,omitempty"`
	Active          *User            `json:"active,omitempty"`
	Users           map[string]*User `json:"users"`
}

// Signer signs 32-byte digests with a derived (or owner-supplied) key.
type Signer interface {
	PublicKey() string
	Sign(digest [32]byte) ([]byte, error)
}

type UserStore interface {
	All(ctx context.Context) (map[string]*User, error)
	Find(ctx context.Context, ownerPublicKey string) (*User, error)
	Put(ctx context.Context, ownerPublicKey string, user *User) error
	Delete(ctx context.Context, ownerPublicKey string) error

	ActivePublicKey(ctx context.Context) (string, error)
	SetActivePublicKey(ctx context.Context, publicKey string) error

	StageLoginKeyPair(ctx context.Context, pair *KeyPair) error
	StagedLoginKeyPair(ctx context.Context) (*KeyPair, error)
	ClearLoginKeyPair(ctx context.Context) error
}
