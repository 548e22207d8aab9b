// Package codec serializes capability sets into the canonical binary
// grammar the ledger expects and builds the bytes an owner key signs
// to attest a derived-key grant.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/tealdao/derivekit/core"
)

// Encode writes the capability set in canonical form: uvarint global
// limit, unlimited flag byte, then each category as a uvarint entry
// count followed by entries sorted bytes-lexicographically by encoded
// scope key.
func Encode(c *core.Capability) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil capability")
	}

	var buf bytes.Buffer
	writeUvarint(&buf, c.GlobalValueLimit)

	if c.Unlimited {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	writeCategory(&buf, c.TransactionCounts, func(k core.TxnKind) []byte {
		return []byte{byte(k)}
	})
	writeCategory(&buf, c.CoinOps, func(k core.CoinScope) []byte {
		var b bytes.Buffer
		writeString(&b, k.Creator)
		b.WriteByte(byte(k.Op))
		return b.Bytes()
	})
	writeCategory(&buf, c.NFTOps, func(k core.NFTScope) []byte {
		var b bytes.Buffer
		writeString(&b, k.Post)
		writeUvarint(&b, k.Serial)
		b.WriteByte(byte(k.Op))
		return b.Bytes()
	})
	writeCategory(&buf, c.AssociationOps, func(k core.AssociationScope) []byte {
		var b bytes.Buffer
		writeString(&b, k.Class)
		b.WriteByte(byte(k.Op))
		return b.Bytes()
	})
	writeCategory(&buf, c.AccessGroupOps, func(k core.AccessGroupScope) []byte {
		var b bytes.Buffer
		writeString(&b, k.Owner)
		writeString(&b, k.GroupName)
		b.WriteByte(byte(k.Op))
		return b.Bytes()
	})

	return buf.Bytes(), nil
}

// Decode inverts Encode. Used on the capability hex the identity
// origin returns with a derive response.
func Decode(raw []byte) (*core.Capability, error) {
	r := bytes.NewReader(raw)

	global, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("read global limit: %w", err)
	}

	flag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read unlimited flag: %w", err)
	}

	c := &core.Capability{
		GlobalValueLimit: global,
		Unlimited:        flag == 1,
	}

	if c.TransactionCounts, err = readCategory(r, func(r *bytes.Reader) (core.TxnKind, error) {
		b, err := r.ReadByte()
		return core.TxnKind(b), err
	}); err != nil {
		return nil, fmt.Errorf("read transaction counts: %w", err)
	}

	if c.CoinOps, err = readCategory(r, func(r *bytes.Reader) (core.CoinScope, error) {
		var s core.CoinScope
		creator, err := readString(r)
		if err != nil {
			return s, err
		}
		op, err := r.ReadByte()
		if err != nil {
			return s, err
		}
		s.Creator, s.Op = creator, core.CoinOp(op)
		return s, nil
	}); err != nil {
		return nil, fmt.Errorf("read coin ops: %w", err)
	}

	if c.NFTOps, err = readCategory(r, func(r *bytes.Reader) (core.NFTScope, error) {
		var s core.NFTScope
		post, err := readString(r)
		if err != nil {
			return s, err
		}
		serial, err := binary.ReadUvarint(r)
		if err != nil {
			return s, err
		}
		op, err := r.ReadByte()
		if err != nil {
			return s, err
		}
		s.Post, s.Serial, s.Op = post, serial, core.NFTOp(op)
		return s, nil
	}); err != nil {
		return nil, fmt.Errorf("read nft ops: %w", err)
	}

	if c.AssociationOps, err = readCategory(r, func(r *bytes.Reader) (core.AssociationScope, error) {
		var s core.AssociationScope
		class, err := readString(r)
		if err != nil {
			return s, err
		}
		op, err := r.ReadByte()
		if err != nil {
			return s, err
		}
		s.Class, s.Op = class, core.AssociationOp(op)
		return s, nil
	}); err != nil {
		return nil, fmt.Errorf("read association ops: %w", err)
	}

	if c.AccessGroupOps, err = readCategory(r, func(r *bytes.Reader) (core.AccessGroupScope, error) {
		var s core.AccessGroupScope
		owner, err := readString(r)
		if err != nil {
			return s, err
		}
		group, err := readString(r)
		if err != nil {
			return s, err
		}
		op, err := r.ReadByte()
		if err != nil {
			return s, err
		}
		s.Owner, s.GroupName, s.Op = owner, group, core.AccessGroupOp(op)
		return s, nil
	}); err != nil {
		return nil, fmt.Errorf("read access group ops: %w", err)
	}

	if r.Len() > 0 {
		return nil, fmt.Errorf("trailing bytes after capability")
	}

	return c, nil
}

// DecodeHex decodes the hex wire form of a capability set.
func DecodeHex(s string) (*core.Capability, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode capability hex: %w", err)
	}

	return Decode(raw)
}

// AccessPayload builds then double-SHA256 hashes the exact bytes the
// owner key signs: derived public key, uvarint expiration height, and
// the encoded capability bytes. Any mismatch between these bytes and
// what is later submitted invalidates the grant.
func AccessPayload(derivedPublicKey []byte, expirationBlock uint64, encodedCapability []byte) [32]byte {
	var buf bytes.Buffer
	buf.Write(derivedPublicKey)
	writeUvarint(&buf, expirationBlock)
	buf.Write(encodedCapability)

	first := sha256.Sum256(buf.Bytes())
	return sha256.Sum256(first[:])
}

func writeCategory[K comparable](buf *bytes.Buffer, m map[K]Count, encodeKey func(K) []byte) {
	type entry struct {
		key   []byte
		count Count
	}

	entries := make([]entry, 0, len(m))
	for k, v := range m {
		count := v
		if count > core.UnlimitedCount {
			count = core.UnlimitedCount
		}
		entries = append(entries, entry{key: encodeKey(k), count: count})
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	writeUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		writeUvarint(buf, uint64(len(e.key)))
		buf.Write(e.key)
		writeUvarint(buf, uint64(e.count))
	}
}

func readCategory[K comparable](r *bytes.Reader, decodeKey func(*bytes.Reader) (K, error)) (map[K]Count, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil
	}

	// Length fields come off the wire unauthenticated; every entry
	// needs at least two bytes, so any count or length beyond what
	// remains is malformed, never an allocation size.
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("entry count %d exceeds %d remaining bytes", n, r.Len())
	}

	m := make(map[K]Count, n)
	for i := uint64(0); i < n; i++ {
		keyLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}

		if keyLen > uint64(r.Len()) {
			return nil, fmt.Errorf("key length %d exceeds %d remaining bytes", keyLen, r.Len())
		}

		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return nil, err
		}

		key, err := decodeKey(bytes.NewReader(keyBytes))
		if err != nil {
			return nil, err
		}

		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}

		m[key] = Count(count)
	}

	return m, nil
}

// Count aliases core.Count to keep the generic helpers readable.
type Count = core.Count

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}

	if n > uint64(r.Len()) {
		return "", fmt.Errorf("string length %d exceeds %d remaining bytes", n, r.Len())
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}

	return string(b), nil
}
