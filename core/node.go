package core

import "context"

// DerivedKeyStatus is the node's view of a grant: whether it is still
// valid on-chain and what capability set it currently carries.
type DerivedKeyStatus struct {
	OwnerPublicKey   string      `json:"owner_public_key"`
	DerivedPublicKey string      `json:"derived_public_key"`
	ExpirationBlock  uint64      `json:"expiration_block"`
	Valid            bool        `json:"valid"`
	Capability       *Capability `json:"capability,omitempty"`
}

// AuthorizeRequest asks the node to construct the on-chain transaction
// registering a derived key under the owner's access signature.
type AuthorizeRequest struct {
	OwnerPublicKey    string
	DerivedPublicKey  string
	ExpirationBlock   uint64
	AccessSignature   string
	CapabilityHex     string
	FeeRateNanosPerKB uint64
}

// NodeClient is the contract with the remote ledger node. The node's
// capability encoding is authoritative; there is no local fallback
// because the grammar may evolve server-side.
type NodeClient interface {
	EncodeCapability(ctx context.Context, capability *Capability) ([]byte, error)
	DerivedKeyStatus(ctx context.Context, ownerPublicKey, derivedPublicKey string) (*DerivedKeyStatus, error)
	AuthorizeDerivedKey(ctx context.Context, req *AuthorizeRequest) (*TxnEnvelope, error)
	SubmitTransaction(ctx context.Context, signedTxn []byte) (string, error)
	CurrentHeight(ctx context.Context) (uint64, error)
}
