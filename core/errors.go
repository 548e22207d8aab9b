package core

import "errors"

var (
	// ErrNoStorageProvider means the orchestrator was constructed
	// without a backing store. Misconfiguration, fatal.
	ErrNoStorageProvider = errors.New("derivekit: no storage provider configured")

	// ErrNoActiveUser is returned by authenticated calls when nobody
	// is logged in.
	ErrNoActiveUser = errors.New("derivekit: no active user")

	// ErrInsufficientFunds tags authorization failures the caller can
	// resolve with a top-up.
	ErrInsufficientFunds = errors.New("derivekit: insufficient funds")

	// ErrHandshakeRejected means the identity origin errored or the
	// hosting surface was closed before a response arrived.
	ErrHandshakeRejected = errors.New("derivekit: handshake rejected")

	// ErrHandshakeReplaced means a newer handshake overwrote the
	// pending slot before this one resolved.
	ErrHandshakeReplaced = errors.New("derivekit: handshake replaced by a newer request")

	// ErrUnknownMethod indicates a protocol mismatch with the identity
	// origin; never ignored silently.
	ErrUnknownMethod = errors.New("derivekit: unknown handshake method")

	// ErrUnknownPayloadKind indicates a payload shape this client does
	// not understand.
	ErrUnknownPayloadKind = errors.New("derivekit: unknown payload kind")

	// ErrPermissionDenied means the cached grant does not cover the
	// requested action.
	ErrPermissionDenied = errors.New("derivekit: capability grant does not cover request")

	// ErrFeeNotConverged means fee computation failed to reach a fixed
	// point within the iteration cap.
	ErrFeeNotConverged = errors.New("derivekit: fee computation did not converge")

	// ErrUserNotFound is returned when a record for the given owner
	// key does not exist in the store.
	ErrUserNotFound = errors.New("derivekit: user not found")
)
