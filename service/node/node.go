// Package node talks to the remote ledger node. The node is the
// authority for capability encodings and derived-key status; this
// client is a thin boundary adapter, not an SDK.
package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/zyedidia/generic/cache"

	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/codec"
	"github.com/tealdao/derivekit/service/keys"
)

type Config struct {
	BaseURL string
}

func New(cfg Config) core.NodeClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")

	return &service{
		client:    client,
		encodings: cache.New[[32]byte, []byte](256),
	}
}

type service struct {
	client *resty.Client

	// encodings caches node-issued capability encodings keyed by the
	// capability's canonical hash; an encoding never changes for the
	// same bytes.
	encodings *cache.Cache[[32]byte, []byte]
	mux       sync.Mutex
}

type errorBody struct {
	Error string `json:"error"`
}

func (b *errorBody) asErr(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	msg := b.Error
	if msg == "" {
		msg = resp.Status()
	}

	if strings.Contains(strings.ToLower(msg), "insufficient") {
		return fmt.Errorf("%w: %s", core.ErrInsufficientFunds, msg)
	}

	return fmt.Errorf("node: %s", msg)
}

func (s *service) EncodeCapability(ctx context.Context, capability *core.Capability) ([]byte, error) {
	local, err := codec.Encode(capability)
	if err != nil {
		return nil, err
	}

	key := codecHash(local)

	s.mux.Lock()
	v, ok := s.encodings.Get(key)
	s.mux.Unlock()
	if ok {
		return v, nil
	}

	var out struct {
		errorBody
		CapabilityHex string `json:"transactionSpendingLimitHex"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"transactionSpendingLimit": capability}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v0/encode-capability-set")
	if err != nil {
		return nil, err
	}

	if err := out.asErr(resp); err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(out.CapabilityHex)
	if err != nil {
		return nil, fmt.Errorf("decode capability hex: %w", err)
	}

	s.mux.Lock()
	s.encodings.Put(key, raw)
	s.mux.Unlock()

	return raw, nil
}

func (s *service) DerivedKeyStatus(ctx context.Context, ownerPublicKey, derivedPublicKey string) (*core.DerivedKeyStatus, error) {
	var out struct {
		errorBody
		OwnerPublicKey   string `json:"ownerPublicKeyBase58Check"`
		DerivedPublicKey string `json:"derivedPublicKeyBase58Check"`
		ExpirationBlock  uint64 `json:"expirationBlock"`
		IsValid          bool   `json:"isValid"`
		CapabilityHex    string `json:"transactionSpendingLimitHex"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"ownerPublicKeyBase58Check":   ownerPublicKey,
			"derivedPublicKeyBase58Check": derivedPublicKey,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v0/get-derived-key-status")
	if err != nil {
		return nil, err
	}

	if err := out.asErr(resp); err != nil {
		return nil, err
	}

	status := &core.DerivedKeyStatus{
		OwnerPublicKey:   out.OwnerPublicKey,
		DerivedPublicKey: out.DerivedPublicKey,
		ExpirationBlock:  out.ExpirationBlock,
		Valid:            out.IsValid,
	}

	if out.CapabilityHex != "" {
		if status.Capability, err = codec.DecodeHex(out.CapabilityHex); err != nil {
			return nil, err
		}
	}

	return status, nil
}

func (s *service) AuthorizeDerivedKey(ctx context.Context, req *core.AuthorizeRequest) (*core.TxnEnvelope, error) {
	var out struct {
		errorBody
		Transaction *core.TxnEnvelope `json:"transaction"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"ownerPublicKeyBase58Check":   req.OwnerPublicKey,
			"derivedPublicKeyBase58Check": req.DerivedPublicKey,
			"expirationBlock":             req.ExpirationBlock,
			"accessSignature":             req.AccessSignature,
			"transactionSpendingLimitHex": req.CapabilityHex,
			"minFeeRateNanosPerKB":        req.FeeRateNanosPerKB,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v0/authorize-derived-key")
	if err != nil {
		return nil, err
	}

	if err := out.asErr(resp); err != nil {
		return nil, err
	}

	if out.Transaction == nil {
		return nil, fmt.Errorf("node: authorize response missing transaction")
	}

	return out.Transaction, nil
}

func (s *service) SubmitTransaction(ctx context.Context, signedTxn []byte) (string, error) {
	var out struct {
		errorBody
		TxnHashHex string `json:"txnHashHex"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"transactionHex": hex.EncodeToString(signedTxn)}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v0/submit-transaction")
	if err != nil {
		return "", err
	}

	if err := out.asErr(resp); err != nil {
		return "", err
	}

	return out.TxnHashHex, nil
}

func (s *service) CurrentHeight(ctx context.Context) (uint64, error) {
	var out struct {
		errorBody
		BlockHeight uint64 `json:"blockHeight"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get("/api/v0/current-height")
	if err != nil {
		return 0, err
	}

	if err := out.asErr(resp); err != nil {
		return 0, err
	}

	return out.BlockHeight, nil
}

func codecHash(encoded []byte) [32]byte {
	return keys.DoubleSha256(encoded)
}
