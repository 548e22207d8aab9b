// Package keys is the crypto capability the rest of the library
// consumes: secp256k1 key pairs, checksummed textual public keys and
// ECDSA signing of double-SHA256 digests.
package keys

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"github.com/tealdao/derivekit/core"
)

const hkdfInfoDerivedKey = "derivekit/derived-key/v1"

// publicKeyPrefix is the network's three-byte text prefix. Combined
// with the four-byte double-SHA256 checksum it yields the familiar
// checksummed base58 public key form.
var publicKeyPrefix = []byte{0xcd, 0x14, 0x00}

const checksumLen = 4

// EncodePublicKey renders a compressed secp256k1 public key in the
// network's checksummed base58 form.
func EncodePublicKey(pub *btcec.PublicKey) string {
	payload := append(append([]byte{}, publicKeyPrefix...), pub.SerializeCompressed()...)
	sum := DoubleSha256(payload)
	return base58.Encode(append(payload, sum[:checksumLen]...))
}

// PublicKeyBytes decodes a checksummed base58 public key back to its
// 33 compressed bytes, verifying prefix and checksum.
func PublicKeyBytes(encoded string) ([]byte, error) {
	raw := base58.Decode(encoded)
	if len(raw) < len(publicKeyPrefix)+btcec.PubKeyBytesLenCompressed+checksumLen {
		return nil, fmt.Errorf("public key %q too short", encoded)
	}

	payload, sum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	want := DoubleSha256(payload)
	if !bytes.Equal(sum, want[:checksumLen]) {
		return nil, fmt.Errorf("public key %q checksum mismatch", encoded)
	}

	if !bytes.Equal(payload[:len(publicKeyPrefix)], publicKeyPrefix) {
		return nil, fmt.Errorf("public key %q has wrong network prefix", encoded)
	}

	keyBytes := payload[len(publicKeyPrefix):]
	if _, err := btcec.ParsePubKey(keyBytes); err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return keyBytes, nil
}

// GeneratePair creates a fresh key pair from system entropy.
func GeneratePair() (*core.KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	return &core.KeyPair{
		PublicKey: EncodePublicKey(priv.PubKey()),
		SeedHex:   hex.EncodeToString(priv.Serialize()),
	}, nil
}

// PairFromSeedHex rebuilds a key pair from stored seed material.
func PairFromSeedHex(seedHex string) (*core.KeyPair, error) {
	priv, err := privFromSeedHex(seedHex)
	if err != nil {
		return nil, err
	}

	return &core.KeyPair{
		PublicKey: EncodePublicKey(priv.PubKey()),
		SeedHex:   seedHex,
	}, nil
}

// PairFromMnemonic derives a key pair from a BIP-39 mnemonic. The
// 64-byte bip39 seed is expanded through HKDF-SHA256 so the signing
// seed is domain-separated from any other use of the mnemonic.
func PairFromMnemonic(mnemonic, passphrase string) (*core.KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	expanded, err := hkdfExpand(seed, hkdfInfoDerivedKey, 32)
	if err != nil {
		return nil, err
	}

	priv, _ := btcec.PrivKeyFromBytes(expanded)
	return &core.KeyPair{
		PublicKey: EncodePublicKey(priv.PubKey()),
		SeedHex:   hex.EncodeToString(priv.Serialize()),
	}, nil
}

// NewMnemonic produces a fresh 128-bit BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy := make([]byte, 16)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}

	return bip39.NewMnemonic(entropy)
}

// SignerFromSeedHex wraps seed material as a core.Signer producing
// DER-encoded ECDSA signatures over 32-byte digests.
func SignerFromSeedHex(seedHex string) (core.Signer, error) {
	priv, err := privFromSeedHex(seedHex)
	if err != nil {
		return nil, err
	}

	return &signer{
		priv:   priv,
		pubKey: EncodePublicKey(priv.PubKey()),
	}, nil
}

type signer struct {
	priv   *btcec.PrivateKey
	pubKey string
}

func (s *signer) PublicKey() string {
	return s.pubKey
}

func (s *signer) Sign(digest [32]byte) ([]byte, error) {
	return ecdsa.Sign(s.priv, digest[:]).Serialize(), nil
}

// Verify checks a DER signature over digest against a checksummed
// public key.
func Verify(publicKey string, digest [32]byte, sig []byte) (bool, error) {
	keyBytes, err := PublicKeyBytes(publicKey)
	if err != nil {
		return false, err
	}

	pub, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return false, err
	}

	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, err
	}

	return parsed.Verify(digest[:], pub), nil
}

// DoubleSha256 is the digest used across the wire: for access
// payloads, transaction signing and public key checksums.
func DoubleSha256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

func privFromSeedHex(seedHex string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	if len(raw) != 32 {
		return nil, fmt.Errorf("seed must be 32 bytes, got %d", len(raw))
	}

	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}

	return out, nil
}
