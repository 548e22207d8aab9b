// Package permit decides synchronously, without I/O, whether a cached
// capability grant covers a requested set of operations. It fails
// closed: any missing or numerically insufficient leaf denies the
// whole request.
package permit

import "github.com/tealdao/derivekit/core"

// Covered reports whether granted satisfies every leaf of requested.
// A top-level unlimited grant short-circuits all per-category checks.
func Covered(requested, granted *core.Capability) bool {
	if granted == nil {
		return false
	}

	if granted.Unlimited {
		return true
	}

	if requested == nil {
		return true
	}

	if requested.Unlimited {
		return false
	}

	if requested.GlobalValueLimit > granted.GlobalValueLimit {
		return false
	}

	if !coveredCategory(requested.TransactionCounts, granted.TransactionCounts, func(core.TxnKind) (core.TxnKind, bool) {
		// Transaction counts have no resource dimension, so there is
		// no wildcard entry to widen into.
		return core.TxnKindUnset, false
	}) {
		return false
	}

	if !coveredCategory(requested.CoinOps, granted.CoinOps, func(s core.CoinScope) (core.CoinScope, bool) {
		return core.CoinScope{Op: core.CoinOpAny}, s != core.CoinScope{Op: core.CoinOpAny}
	}) {
		return false
	}

	if !coveredCategory(requested.NFTOps, granted.NFTOps, func(s core.NFTScope) (core.NFTScope, bool) {
		return core.NFTScope{Op: core.NFTOpAny}, s != core.NFTScope{Op: core.NFTOpAny}
	}) {
		return false
	}

	if !coveredCategory(requested.AssociationOps, granted.AssociationOps, func(s core.AssociationScope) (core.AssociationScope, bool) {
		return core.AssociationScope{Op: core.AssociationOpAny}, s != core.AssociationScope{Op: core.AssociationOpAny}
	}) {
		return false
	}

	if !coveredCategory(requested.AccessGroupOps, granted.AccessGroupOps, func(s core.AccessGroupScope) (core.AccessGroupScope, bool) {
		return core.AccessGroupScope{Op: core.AccessGroupOpAny}, s != core.AccessGroupScope{Op: core.AccessGroupOpAny}
	}) {
		return false
	}

	return true
}

// coveredCategory compares one category's counters. wildcard returns
// the category's any-resource/any-op key and whether falling back to
// it is allowed for the given scope.
func coveredCategory[K comparable](requested, granted map[K]core.Count, wildcard func(K) (K, bool)) bool {
	for scope, want := range requested {
		got, ok := granted[scope]
		if !ok || got < want {
			wild, allowed := wildcard(scope)
			if !allowed {
				return false
			}

			got, ok = granted[wild]
			if !ok || got < want {
				return false
			}
		}

		// A requested unlimited counter is satisfied only by a granted
		// count at or above the sentinel, never by mere presence.
		if want.Unlimited() && !got.Unlimited() {
			return false
		}
	}

	return true
}

// CoveredKind is the single-operation convenience used before framing
// one transaction of the given kind moving value nanos.
func CoveredKind(kind core.TxnKind, valueNanos uint64, granted *core.Capability) bool {
	return Covered(&core.Capability{
		GlobalValueLimit:  valueNanos,
		TransactionCounts: map[core.TxnKind]core.Count{kind: 1},
	}, granted)
}
