// Package framer builds unsigned transaction envelopes and converges
// fee computation to a fixed point by repeated re-serialization, since
// the fee affects the serialized size which affects the fee.
package framer

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/oxtoacart/bpool"
	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/keys"
)

const (
	// DefaultExpirationOffset is added to the current height when the
	// caller does not pin a nonce expiration.
	DefaultExpirationOffset = 288

	// feeIterationCap bounds the fixed-point loop. Size only changes
	// through fee-varint width, so convergence takes a handful of
	// iterations; anything more is a bug and we fail closed.
	feeIterationCap = 10

	envelopeVersion = 1
)

var bufPool = bpool.NewSizedBufferPool(16, 1024)

// Fields are the caller-shaped parts of an envelope.
type Fields struct {
	Outputs   []*core.TxnOutput
	Payload   []byte
	ExtraData map[string][]byte

	// NoncePartialID pins the nonce when non-zero; tests rely on this
	// for bit-for-bit reproducible output.
	NoncePartialID  uint64
	ExpirationBlock uint64
}

// Frame assembles an unsigned envelope: nonce assignment, extra-data
// canonicalization and fee-payment outputs. currentHeight feeds the
// default nonce expiration.
func Frame(senderPublicKey string, metadata core.TxnKind, fields Fields, currentHeight uint64) (*core.TxnEnvelope, error) {
	if senderPublicKey == "" {
		return nil, fmt.Errorf("sender public key required")
	}

	if metadata == core.TxnKindUnset {
		return nil, core.ErrUnknownPayloadKind
	}

	partialID := fields.NoncePartialID
	if partialID == 0 {
		var err error
		if partialID, err = randomPartialID(); err != nil {
			return nil, fmt.Errorf("nonce id: %w", err)
		}
	}

	expiration := fields.ExpirationBlock
	if expiration == 0 {
		expiration = currentHeight + DefaultExpirationOffset
	}

	return &core.TxnEnvelope{
		Version:   envelopeVersion,
		PublicKey: senderPublicKey,
		Outputs:   fields.Outputs,
		Metadata:  metadata,
		Payload:   fields.Payload,
		ExtraData: fields.ExtraData,
		Nonce: core.TxnNonce{
			ExpirationBlock: expiration,
			PartialID:       partialID,
		},
	}, nil
}

// Serialize renders the envelope deterministically: varlen sender key,
// outputs, metadata, extra data sorted by key, uvarint fee, nonce and
// a trailing version byte.
func Serialize(txn *core.TxnEnvelope) ([]byte, error) {
	senderKey, err := keys.PublicKeyBytes(txn.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("sender key: %w", err)
	}

	buf := bufPool.Get()
	defer bufPool.Put(buf)

	writeBytes(buf, senderKey)

	writeUvarint(buf, uint64(len(txn.Outputs)))
	for _, out := range txn.Outputs {
		outKey, err := keys.PublicKeyBytes(out.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("output key: %w", err)
		}

		writeBytes(buf, outKey)
		writeUvarint(buf, out.AmountNanos)
	}

	buf.WriteByte(byte(txn.Metadata))
	writeBytes(buf, txn.Payload)

	extraKeys := make([]string, 0, len(txn.ExtraData))
	for k := range txn.ExtraData {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)

	writeUvarint(buf, uint64(len(extraKeys)))
	for _, k := range extraKeys {
		writeBytes(buf, []byte(k))
		writeBytes(buf, txn.ExtraData[k])
	}

	writeUvarint(buf, txn.FeeNanos)
	writeUvarint(buf, txn.Nonce.ExpirationBlock)
	writeUvarint(buf, txn.Nonce.PartialID)
	buf.WriteByte(txn.Version)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// ComputeFee converges fee = ceil(size * rate / 1000) to a fixed point
// and returns the serialized bytes at convergence. The envelope's
// FeeNanos is updated in place.
func ComputeFee(txn *core.TxnEnvelope, feeRateNanosPerKB uint64) ([]byte, error) {
	raw, err := Serialize(txn)
	if err != nil {
		return nil, err
	}

	for i := 0; i < feeIterationCap; i++ {
		fee := feeForSize(len(raw), feeRateNanosPerKB)
		if fee == txn.FeeNanos {
			return raw, nil
		}

		txn.FeeNanos = fee
		if raw, err = Serialize(txn); err != nil {
			return nil, err
		}
	}

	return nil, core.ErrFeeNotConverged
}

// SignedBytes serializes the envelope, signs its double-SHA256 digest
// and appends the length-prefixed DER signature, yielding the bytes
// the node accepts for submission.
func SignedBytes(txn *core.TxnEnvelope, signer core.Signer) ([]byte, error) {
	raw, err := Serialize(txn)
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(keys.DoubleSha256(raw))
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}

	buf := bytes.NewBuffer(raw)
	writeBytes(buf, sig)
	return buf.Bytes(), nil
}

func feeForSize(size int, rate uint64) uint64 {
	return (uint64(size)*rate + 999) / 1000
}

func randomPartialID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(b[:]), nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}
