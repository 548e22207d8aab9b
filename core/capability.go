package core

// Count is a granted or requested operation budget. Counters are
// consumed node-side; clients only ever compare requested against
// granted values.
type Count uint64

// UnlimitedCount is the sentinel the ledger grammar uses for an
// unbounded counter. Any granted count at or above it satisfies an
// "unlimited" request.
const UnlimitedCount Count = 1_000_000_000

// Unlimited reports whether the count is at or above the sentinel.
func (c Count) Unlimited() bool {
	return c >= UnlimitedCount
}

type TxnKind uint8

const (
	TxnKindUnset TxnKind = iota
	TxnKindBasicTransfer
	TxnKindSubmitPost
	TxnKindFollow
	TxnKindLike
	TxnKindUpdateProfile
	TxnKindPrivateMessage
	TxnKindCreatorCoin
	TxnKindCreateNFT
	TxnKindNFTBid
	TxnKindAcceptNFTBid
	TxnKindAuthorizeDerivedKey
	TxnKindAssociation
	TxnKindAccessGroup
	TxnKindStake
)

func (k TxnKind) String() string {
	switch k {
	case TxnKindBasicTransfer:
		return "BASIC_TRANSFER"
	case TxnKindSubmitPost:
		return "SUBMIT_POST"
	case TxnKindFollow:
		return "FOLLOW"
	case TxnKindLike:
		return "LIKE"
	case TxnKindUpdateProfile:
		return "UPDATE_PROFILE"
	case TxnKindPrivateMessage:
		return "PRIVATE_MESSAGE"
	case TxnKindCreatorCoin:
		return "CREATOR_COIN"
	case TxnKindCreateNFT:
		return "CREATE_NFT"
	case TxnKindNFTBid:
		return "NFT_BID"
	case TxnKindAcceptNFTBid:
		return "ACCEPT_NFT_BID"
	case TxnKindAuthorizeDerivedKey:
		return "AUTHORIZE_DERIVED_KEY"
	case TxnKindAssociation:
		return "ASSOCIATION"
	case TxnKindAccessGroup:
		return "ACCESS_GROUP"
	case TxnKindStake:
		return "STAKE"
	default:
		return "UNSET"
	}
}

type CoinOp uint8

const (
	CoinOpAny CoinOp = iota
	CoinOpBuy
	CoinOpSell
	CoinOpTransfer
	CoinOpMint
	CoinOpBurn
)

type NFTOp uint8

const (
	NFTOpAny NFTOp = iota
	NFTOpBid
	NFTOpAcceptBid
	NFTOpTransfer
	NFTOpBurn
	NFTOpUpdate
)

type AssociationOp uint8

const (
	AssociationOpAny AssociationOp = iota
	AssociationOpCreate
	AssociationOpDelete
)

type AccessGroupOp uint8

const (
	AccessGroupOpAny AccessGroupOp = iota
	AccessGroupOpCreate
	AccessGroupOpUpdate
	AccessGroupOpAddMembers
	AccessGroupOpRemoveMembers
)

// Scope keys. The zero resource ("" / 0) combined with the Any op is
// the wildcard entry for the category.

type CoinScope struct {
	Creator string `json:"creator,omitempty"`
	Op      CoinOp `json:"op"`
}

type NFTScope struct {
	Post   string `json:"post,omitempty"`
	Serial uint64 `json:"serial,omitempty"`
	Op     NFTOp  `json:"op"`
}

type AssociationScope struct {
	Class string        `json:"class,omitempty"`
	Op    AssociationOp `json:"op"`
}

type AccessGroupScope struct {
	Owner     string        `json:"owner,omitempty"`
	GroupName string        `json:"group_name,omitempty"`
	Op        AccessGroupOp `json:"op"`
}

// Capability bounds what a derived key may author: a global value
// ceiling plus one counter per operation per resource scope. The
// top-level Unlimited flag short-circuits every per-category check.
type Capability struct {
	GlobalValueLimit uint64 `json:"global_value_limit"`
	Unlimited        bool   `json:"unlimited,omitempty"`

	TransactionCounts map[TxnKind]Count          `json:"transaction_counts,omitempty"`
	CoinOps           map[CoinScope]Count        `json:"coin_ops,omitempty"`
	NFTOps            map[NFTScope]Count         `json:"nft_ops,omitempty"`
	AssociationOps    map[AssociationScope]Count `json:"association_ops,omitempty"`
	AccessGroupOps    map[AccessGroupScope]Count `json:"access_group_ops,omitempty"`
}

// Clone returns a deep copy so a cached grant and a caller-held copy
// never alias the same maps.
func (c *Capability) Clone() *Capability {
	if c == nil {
		return nil
	}

	out := &Capability{
		GlobalValueLimit: c.GlobalValueLimit,
		Unlimited:        c.Unlimited,
	}

	out.TransactionCounts = cloneMap(c.TransactionCounts)
	out.CoinOps = cloneMap(c.CoinOps)
	out.NFTOps = cloneMap(c.NFTOps)
	out.AssociationOps = cloneMap(c.AssociationOps)
	out.AccessGroupOps = cloneMap(c.AccessGroupOps)
	return out
}

func cloneMap[K comparable](m map[K]Count) map[K]Count {
	if m == nil {
		return nil
	}

	out := make(map[K]Count, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
