package framer

import (
	"bytes"
	"testing"

	"github.com/tealdao/derivekit/core"
	"github.com/tealdao/derivekit/service/keys"
)

// fixed seeds keep framed bytes reproducible across runs.
const (
	senderSeed    = "5a0cbd25d7943c5339ba24b6b5b90e98cd9c9133bef240b89468b95c7cc9d011"
	recipientSeed = "9f2def31bd21c4f0c98de97a61cd21cc38be24e0d1a538e448ea0ecd47101b22"
)

func testKeys(t *testing.T) (sender, recipient string) {
	t.Helper()

	s, err := keys.PairFromSeedHex(senderSeed)
	if err != nil {
		t.Fatalf("sender pair: %v", err)
	}

	r, err := keys.PairFromSeedHex(recipientSeed)
	if err != nil {
		t.Fatalf("recipient pair: %v", err)
	}

	return s.PublicKey, r.PublicKey
}

func pinnedFields(recipient string) Fields {
	return Fields{
		Outputs: []*core.TxnOutput{
			{PublicKey: recipient, AmountNanos: 1_500_000},
		},
		Payload:         []byte("hello ledger"),
		ExtraData:       map[string][]byte{"b": {2}, "a": {1}},
		NoncePartialID:  42,
		ExpirationBlock: 10_288,
	}
}

func TestFrameDeterministic(t *testing.T) {
	sender, recipient := testKeys(t)

	frameOnce := func() []byte {
		txn, err := Frame(sender, core.TxnKindBasicTransfer, pinnedFields(recipient), 10_000)
		if err != nil {
			t.Fatalf("Frame: %v", err)
		}

		raw, err := ComputeFee(txn, 1000)
		if err != nil {
			t.Fatalf("ComputeFee: %v", err)
		}

		return raw
	}

	if !bytes.Equal(frameOnce(), frameOnce()) {
		t.Fatal("pinned-nonce framing not bit-for-bit reproducible")
	}
}

func TestFrameDefaults(t *testing.T) {
	sender, recipient := testKeys(t)

	txn, err := Frame(sender, core.TxnKindBasicTransfer, Fields{
		Outputs: []*core.TxnOutput{{PublicKey: recipient, AmountNanos: 5}},
	}, 20_000)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	if txn.Nonce.ExpirationBlock != 20_000+DefaultExpirationOffset {
		t.Fatalf("default expiration = %d, want %d", txn.Nonce.ExpirationBlock, 20_000+DefaultExpirationOffset)
	}

	if txn.Nonce.PartialID == 0 {
		t.Fatal("nonce partial id not assigned")
	}
}

func TestFrameRejectsBadInput(t *testing.T) {
	sender, _ := testKeys(t)

	if _, err := Frame("", core.TxnKindBasicTransfer, Fields{}, 1); err == nil {
		t.Fatal("empty sender accepted")
	}

	if _, err := Frame(sender, core.TxnKindUnset, Fields{}, 1); err == nil {
		t.Fatal("unset metadata kind accepted")
	}
}

func TestComputeFeeIdempotent(t *testing.T) {
	sender, recipient := testKeys(t)

	txn, err := Frame(sender, core.TxnKindSubmitPost, pinnedFields(recipient), 10_000)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	raw, err := ComputeFee(txn, 1500)
	if err != nil {
		t.Fatalf("ComputeFee: %v", err)
	}

	converged := txn.FeeNanos

	raw2, err := ComputeFee(txn, 1500)
	if err != nil {
		t.Fatalf("ComputeFee rerun: %v", err)
	}

	if txn.FeeNanos != converged {
		t.Fatalf("fee drifted on rerun: %d -> %d", converged, txn.FeeNanos)
	}

	if !bytes.Equal(raw, raw2) {
		t.Fatal("serialized bytes drifted on rerun")
	}
}

func TestComputeFeeMatchesSize(t *testing.T) {
	sender, recipient := testKeys(t)

	txn, err := Frame(sender, core.TxnKindBasicTransfer, pinnedFields(recipient), 10_000)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	const rate = 12_345
	raw, err := ComputeFee(txn, rate)
	if err != nil {
		t.Fatalf("ComputeFee: %v", err)
	}

	want := (uint64(len(raw))*rate + 999) / 1000
	if txn.FeeNanos != want {
		t.Fatalf("fee = %d, want ceil(%d*%d/1000) = %d", txn.FeeNanos, len(raw), rate, want)
	}
}

func TestComputeFeeZeroRate(t *testing.T) {
	sender, recipient := testKeys(t)

	txn, err := Frame(sender, core.TxnKindBasicTransfer, pinnedFields(recipient), 10_000)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	if _, err := ComputeFee(txn, 0); err != nil {
		t.Fatalf("ComputeFee: %v", err)
	}

	if txn.FeeNanos != 0 {
		t.Fatalf("zero rate produced fee %d", txn.FeeNanos)
	}
}

func TestSerializeSortsExtraData(t *testing.T) {
	sender, recipient := testKeys(t)

	a, err := Frame(sender, core.TxnKindBasicTransfer, pinnedFields(recipient), 10_000)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	fields := pinnedFields(recipient)
	fields.ExtraData = map[string][]byte{"a": {1}, "b": {2}}
	b, err := Frame(sender, core.TxnKindBasicTransfer, fields, 10_000)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	rawA, err := Serialize(a)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	rawB, err := Serialize(b)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	if !bytes.Equal(rawA, rawB) {
		t.Fatal("extra data insertion order leaked into serialization")
	}
}
