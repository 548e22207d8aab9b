package core

// TxnOutput moves value to a recipient as part of an envelope.
type TxnOutput struct {
	PublicKey   string `json:"public_key"`
	AmountNanos uint64 `json:"amount_nanos"`
}

// TxnNonce makes a balance-model transaction unique and expirable
// without consuming prior outputs.
type TxnNonce struct {
	ExpirationBlock uint64 `json:"expiration_block"`
	PartialID       uint64 `json:"partial_id"`
}

// TxnEnvelope is an unsigned transaction as framed for signing and
// submission. It is never persisted by this library.
type TxnEnvelope struct {
	Version   byte              `json:"version"`
	PublicKey string            `json:"public_key"`
	Outputs   []*TxnOutput      `json:"outputs,omitempty"`
	Metadata  TxnKind           `json:"metadata"`
	Payload   []byte            `json:"payload,omitempty"`
	ExtraData map[string][]byte `json:"extra_data,omitempty"`
	Nonce     TxnNonce          `json:"nonce"`
	FeeNanos  uint64            `json:"fee_nanos"`
}

// TotalOutputNanos is the value the envelope moves, excluding fee.
func (t *TxnEnvelope) TotalOutputNanos() uint64 {
	var sum uint64
	for _, out := range t.Outputs {
		sum += out.AmountNanos
	}

	return sum
}
