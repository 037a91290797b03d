package document

import (
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/solstream-io/mongosink/geyser"
	"github.com/solstream-io/mongosink/slots"
)

var (
	testPubkey = fill(32, 1)
	testOwner  = fill(32, 2)
	testSig    = fill(64, 3)
	testTime   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func fill(n int, b byte) []byte {
	var out = make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func accountFixture() *geyser.AccountUpdate {
	return &geyser.AccountUpdate{
		Pubkey:       testPubkey,
		Owner:        testOwner,
		Lamports:     5_000_000,
		RentEpoch:    361,
		Data:         []byte("account-data"),
		WriteVersion: 42,
		TxnSignature: testSig,
		Slot:         100,
		ReceivedAt:   testTime,
	}
}

func TestFromAccountUpdate(t *testing.T) {
	var doc, err = FromAccountUpdate(accountFixture())
	require.NoError(t, err)

	require.Equal(t, Accounts, doc.Collection)
	require.Equal(t, base58.Encode(testPubkey), doc.ID)
	require.Equal(t, uint64(100), doc.Slot)

	var body = doc.Body.(*Account)
	require.Equal(t, base58.Encode(testOwner), body.Owner)
	require.Equal(t, int64(5_000_000), body.Lamports)
	require.Equal(t, int64(42), body.WriteVersion)
	require.Equal(t, base58.Encode(testSig), body.TxnSignature)
	require.Equal(t, testTime, body.UpdatedOn)

	body.SetLevel(slots.Confirmed)
	require.Equal(t, "confirmed", body.Level)
}

func TestFromAccountUpdateFailsClosed(t *testing.T) {
	var cases = []struct {
		name   string
		mutate func(*geyser.AccountUpdate)
	}{
		{"short pubkey", func(u *geyser.AccountUpdate) { u.Pubkey = u.Pubkey[:31] }},
		{"nil pubkey", func(u *geyser.AccountUpdate) { u.Pubkey = nil }},
		{"short owner", func(u *geyser.AccountUpdate) { u.Owner = u.Owner[:16] }},
		{"bad signature", func(u *geyser.AccountUpdate) { u.TxnSignature = u.TxnSignature[:63] }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var u = accountFixture()
			tc.mutate(u)

			var _, err = FromAccountUpdate(u)
			require.Error(t, err)
			require.True(t, IsTransformError(err))
		})
	}
}

func TestAuditOf(t *testing.T) {
	var doc, err = FromAccountUpdate(accountFixture())
	require.NoError(t, err)

	var audit = AuditOf(doc)
	require.Equal(t, AccountAudit, audit.Collection)
	require.Empty(t, audit.ID)
	require.Equal(t, doc.Body, audit.Body)
	require.NotSame(t, doc.Body, audit.Body)
	require.Equal(t, doc.Slot, audit.Slot)
}

func txnFixture() *geyser.TransactionUpdate {
	return &geyser.TransactionUpdate{
		Signature:    testSig,
		Slot:         200,
		Index:        7,
		AccountKeys:  [][]byte{testPubkey, testOwner},
		Fee:          5000,
		PreBalances:  []uint64{10, 20},
		PostBalances: []uint64{5, 25},
		LogMessages:  []string{"Program log: ok"},
		ReceivedAt:   testTime,
	}
}

func TestFromTransactionUpdate(t *testing.T) {
	var doc, err = FromTransactionUpdate(txnFixture())
	require.NoError(t, err)

	require.Equal(t, Transactions, doc.Collection)
	require.Equal(t, base58.Encode(testSig), doc.ID)

	var body = doc.Body.(*Transaction)
	require.Equal(t, []string{base58.Encode(testPubkey), base58.Encode(testOwner)}, body.AccountKeys)
	require.Equal(t, []int64{10, 20}, body.PreBalances)
	require.Equal(t, []int64{5, 25}, body.PostBalances)
	require.Nil(t, body.Err)
}

func TestFromTransactionUpdateErrors(t *testing.T) {
	var u = txnFixture()
	u.Signature = u.Signature[:10]
	var _, err = FromTransactionUpdate(u)
	require.True(t, IsTransformError(err))

	u = txnFixture()
	u.AccountKeys = append(u.AccountKeys, []byte("short"))
	_, err = FromTransactionUpdate(u)
	require.True(t, IsTransformError(err))

	u = txnFixture()
	u.PreBalances = u.PreBalances[:1]
	_, err = FromTransactionUpdate(u)
	require.True(t, IsTransformError(err))
}

func TestTransactionErrorTaxonomy(t *testing.T) {
	var u = txnFixture()
	u.Err = &geyser.TxError{Code: geyser.TxErrBlockhashNotFound}

	var doc, err = FromTransactionUpdate(u)
	require.NoError(t, err)
	require.Equal(t, &TxErrorDoc{Code: "blockhash_not_found"}, doc.Body.(*Transaction).Err)

	// Unknown codes are stored as "other" with the raw code preserved.
	u = txnFixture()
	u.Err = &geyser.TxError{Code: "some_future_code", Detail: "at index 2"}

	doc, err = FromTransactionUpdate(u)
	require.NoError(t, err)
	require.Equal(t,
		&TxErrorDoc{Code: "other", Detail: "some_future_code: at index 2"},
		doc.Body.(*Transaction).Err)
}

func TestFromBlockMeta(t *testing.T) {
	var height = uint64(90)
	var commission = uint8(5)
	var u = &geyser.BlockMeta{
		Slot:            100,
		Blockhash:       "9mHk",
		ParentSlot:      99,
		ParentBlockhash: "8gFq",
		BlockHeight:     &height,
		BlockTime:       1714563600,
		Rewards: []geyser.Reward{{
			Pubkey:      "voteAcct",
			Lamports:    12,
			PostBalance: 900,
			Kind:        geyser.RewardVoting,
			Commission:  &commission,
		}},
		ExecutedTransactionCount: 3107,
		ReceivedAt:               testTime,
	}

	var doc, err = FromBlockMeta(u)
	require.NoError(t, err)
	require.Equal(t, Blocks, doc.Collection)
	require.Equal(t, "90", doc.ID) // Height, not slot.

	var body = doc.Body.(*Block)
	require.Equal(t, int64(100), body.Slot)
	require.Equal(t, int64(3107), body.TransactionCount)
	require.Len(t, body.Rewards, 1)
	require.Equal(t, "voting", body.Rewards[0].Kind)
	require.Equal(t, int32(5), *body.Rewards[0].Commission)

	// Without a height, the slot is the identifier.
	u.BlockHeight = nil
	doc, err = FromBlockMeta(u)
	require.NoError(t, err)
	require.Equal(t, "100", doc.ID)

	u.Blockhash = ""
	_, err = FromBlockMeta(u)
	require.True(t, IsTransformError(err))
}

func TestFromSlotStatus(t *testing.T) {
	var parent = uint64(99)
	var doc, err = FromSlotStatus(&geyser.SlotStatusUpdate{
		Slot:       100,
		Parent:     &parent,
		Status:     slots.Confirmed,
		ReceivedAt: testTime,
	})
	require.NoError(t, err)
	require.Equal(t, Slots, doc.Collection)
	require.Equal(t, "100", doc.ID)

	var body = doc.Body.(*Slot)
	require.Equal(t, "confirmed", body.Status)
	require.Equal(t, int64(99), *body.Parent)

	_, err = FromSlotStatus(&geyser.SlotStatusUpdate{Slot: 100})
	require.True(t, IsTransformError(err))
}

func tokenAccountFixture() *geyser.AccountUpdate {
	var u = accountFixture()
	u.Owner = tokenProgramKey
	u.Data = make([]byte, tokenAccountDataLen)
	copy(u.Data[0:32], fill(32, 7))  // Mint.
	copy(u.Data[32:64], fill(32, 8)) // Owner.
	return u
}

func TestTokenIndexes(t *testing.T) {
	var u = tokenAccountFixture()
	require.True(t, IsTokenAccount(u))

	var docs = TokenIndexesOf(u, true, true)
	require.Len(t, docs, 2)
	require.Equal(t, TokenOwnerIndex, docs[0].Collection)
	require.Equal(t, TokenMintIndex, docs[1].Collection)

	require.Equal(t, base58.Encode(fill(32, 8)), docs[0].Body.(*TokenIndexEntry).SecondaryKey)
	require.Equal(t, base58.Encode(fill(32, 7)), docs[1].Body.(*TokenIndexEntry).SecondaryKey)
	require.Equal(t, base58.Encode(testPubkey), docs[0].Body.(*TokenIndexEntry).AccountKey)

	require.Len(t, TokenIndexesOf(u, true, false), 1)
	require.Nil(t, TokenIndexesOf(u, false, false))

	// Non-token accounts yield no entries.
	require.Nil(t, TokenIndexesOf(accountFixture(), true, true))

	// Truncated token data yields no entries.
	u.Data = u.Data[:64]
	require.Nil(t, TokenIndexesOf(u, true, true))
}
