package document

import (
	"time"

	"github.com/mr-tron/base58"

	"github.com/solstream-io/mongosink/geyser"
	"github.com/solstream-io/mongosink/slots"
)

const (
	pubkeyLen    = 32
	signatureLen = 64
)

// Account is the current-state document of a selected account.
// It is upserted into the accounts collection by base-58 pubkey, and the
// identical shape is appended to account_audit for each applied version.
type Account struct {
	Pubkey       string    `bson:"pubkey"`
	Owner        string    `bson:"owner"`
	Lamports     int64     `bson:"lamports"`
	Executable   bool      `bson:"executable"`
	RentEpoch    int64     `bson:"rent_epoch"`
	Data         []byte    `bson:"data"`
	Slot         int64     `bson:"slot"`
	WriteVersion int64     `bson:"write_version"`
	TxnSignature string    `bson:"txn_signature,omitempty"`
	Level        string    `bson:"level"`
	UpdatedOn    time.Time `bson:"updated_on"`
}

// SetLevel implements Body.
func (a *Account) SetLevel(l slots.Level) { a.Level = l.String() }

// FromAccountUpdate transforms an account update into its current-state
// document.
func FromAccountUpdate(u *geyser.AccountUpdate) (Document, error) {
	if len(u.Pubkey) != pubkeyLen {
		return Document{}, transformErrf("account", "pubkey has length %d", len(u.Pubkey))
	} else if len(u.Owner) != pubkeyLen {
		return Document{}, transformErrf("account", "owner has length %d", len(u.Owner))
	} else if len(u.TxnSignature) != 0 && len(u.TxnSignature) != signatureLen {
		return Document{}, transformErrf("account", "txn signature has length %d", len(u.TxnSignature))
	}

	var key = base58.Encode(u.Pubkey)
	var body = &Account{
		Pubkey:       key,
		Owner:        base58.Encode(u.Owner),
		Lamports:     int64(u.Lamports),
		Executable:   u.Executable,
		RentEpoch:    int64(u.RentEpoch),
		Data:         u.Data,
		Slot:         int64(u.Slot),
		WriteVersion: int64(u.WriteVersion),
		UpdatedOn:    u.ReceivedAt.UTC(),
	}
	if len(u.TxnSignature) != 0 {
		body.TxnSignature = base58.Encode(u.TxnSignature)
	}
	return Document{
		Collection: Accounts,
		ID:         key,
		Slot:       u.Slot,
		Size:       len(u.Data) + 2*pubkeyLen,
		Body:       body,
	}, nil
}

// AuditOf derives the append-only account_audit document of an accounts
// document. Audit entries are inserted once per applied version: replays
// of the same version converge in accounts but append distinct audit rows.
// The body is copied, as the two documents are written by independent
// batches which tag levels concurrently.
func AuditOf(doc Document) Document {
	var body = *doc.Body.(*Account)
	var out = doc
	out.Collection = AccountAudit
	out.ID = "" // Appended, not upserted.
	out.Body = &body
	return out
}

// TxErrorDoc is the persisted error of a failed transaction.
type TxErrorDoc struct {
	Code   string `bson:"code"`
	Detail string `bson:"detail,omitempty"`
}

// Transaction is the document of an executed transaction, inserted once
// by base-58 signature.
type Transaction struct {
	Signature    string      `bson:"signature"`
	IsVote       bool        `bson:"is_vote"`
	Slot         int64       `bson:"slot"`
	Index        int64       `bson:"index"`
	AccountKeys  []string    `bson:"account_keys"`
	Fee          int64       `bson:"fee"`
	PreBalances  []int64     `bson:"pre_balances"`
	PostBalances []int64     `bson:"post_balances"`
	LogMessages  []string    `bson:"log_messages,omitempty"`
	Err          *TxErrorDoc `bson:"err,omitempty"`
	Level        string      `bson:"level"`
	UpdatedOn    time.Time   `bson:"updated_on"`
}

// SetLevel implements Body.
func (t *Transaction) SetLevel(l slots.Level) { t.Level = l.String() }

// FromTransactionUpdate transforms a transaction update into its document.
func FromTransactionUpdate(u *geyser.TransactionUpdate) (Document, error) {
	if len(u.Signature) != signatureLen {
		return Document{}, transformErrf("transaction", "signature has length %d", len(u.Signature))
	}
	var keys = make([]string, 0, len(u.AccountKeys))
	var size = signatureLen
	for i, key := range u.AccountKeys {
		if len(key) != pubkeyLen {
			return Document{}, transformErrf("transaction", "account key %d has length %d", i, len(key))
		}
		keys = append(keys, base58.Encode(key))
		size += pubkeyLen
	}
	if len(u.PreBalances) != len(u.AccountKeys) || len(u.PostBalances) != len(u.AccountKeys) {
		return Document{}, transformErrf("transaction",
			"balances have lengths %d/%d for %d account keys",
			len(u.PreBalances), len(u.PostBalances), len(u.AccountKeys))
	}

	var sig = base58.Encode(u.Signature)
	var body = &Transaction{
		Signature:    sig,
		IsVote:       u.IsVote,
		Slot:         int64(u.Slot),
		Index:        int64(u.Index),
		AccountKeys:  keys,
		Fee:          int64(u.Fee),
		PreBalances:  toInt64s(u.PreBalances),
		PostBalances: toInt64s(u.PostBalances),
		LogMessages:  u.LogMessages,
		UpdatedOn:    u.ReceivedAt.UTC(),
	}
	if u.Err != nil {
		body.Err = txErrorDocOf(u.Err)
	}
	return Document{
		Collection: Transactions,
		ID:         sig,
		Slot:       u.Slot,
		Size:       size,
		Body:       body,
	}, nil
}

// txErrorDocOf maps a host error to its persisted form. Codes outside the
// known taxonomy are stored as "other" with the raw code preserved.
func txErrorDocOf(e *geyser.TxError) *TxErrorDoc {
	if e.Code.Known() {
		return &TxErrorDoc{Code: string(e.Code), Detail: e.Detail}
	}
	var detail = string(e.Code)
	if e.Detail != "" {
		detail += ": " + e.Detail
	}
	return &TxErrorDoc{Code: string(geyser.TxErrOther), Detail: detail}
}

// RewardDoc is one block reward attribution.
type RewardDoc struct {
	Pubkey      string `bson:"pubkey"`
	Lamports    int64  `bson:"lamports"`
	PostBalance int64  `bson:"post_balance"`
	Kind        string `bson:"kind,omitempty"`
	Commission  *int32 `bson:"commission,omitempty"`
}

// Block is the document of a produced block, inserted once by height.
type Block struct {
	Slot             int64       `bson:"slot"`
	Blockhash        string      `bson:"blockhash"`
	ParentSlot       int64       `bson:"parent_slot"`
	ParentBlockhash  string      `bson:"parent_blockhash,omitempty"`
	Height           *int64      `bson:"height,omitempty"`
	Rewards          []RewardDoc `bson:"rewards,omitempty"`
	BlockTime        int64       `bson:"block_time,omitempty"`
	TransactionCount int64       `bson:"transaction_count"`
	Level            string      `bson:"level"`
	UpdatedOn        time.Time   `bson:"updated_on"`
}

// SetLevel implements Body.
func (b *Block) SetLevel(l slots.Level) { b.Level = l.String() }

// FromBlockMeta transforms block metadata into its document. The document
// identifier is the block height when reported, else the slot: both are
// unique on the finalized chain, and height is not known for all blocks.
func FromBlockMeta(u *geyser.BlockMeta) (Document, error) {
	if u.Blockhash == "" {
		return Document{}, transformErrf("block", "blockhash is empty")
	}
	var body = &Block{
		Slot:             int64(u.Slot),
		Blockhash:        u.Blockhash,
		ParentSlot:       int64(u.ParentSlot),
		ParentBlockhash:  u.ParentBlockhash,
		BlockTime:        u.BlockTime,
		TransactionCount: int64(u.ExecutedTransactionCount),
		UpdatedOn:        u.ReceivedAt.UTC(),
	}
	var id = idOfSlot(u.Slot)
	if u.BlockHeight != nil {
		var h = int64(*u.BlockHeight)
		body.Height = &h
		id = idOfSlot(*u.BlockHeight)
	}
	for _, r := range u.Rewards {
		var doc = RewardDoc{
			Pubkey:      r.Pubkey,
			Lamports:    r.Lamports,
			PostBalance: int64(r.PostBalance),
			Kind:        string(r.Kind),
		}
		if r.Commission != nil {
			var c = int32(*r.Commission)
			doc.Commission = &c
		}
		body.Rewards = append(body.Rewards, doc)
	}
	return Document{
		Collection: Blocks,
		ID:         id,
		Slot:       u.Slot,
		Size:       len(u.Blockhash) + len(u.Rewards)*pubkeyLen,
		Body:       body,
	}, nil
}

// Slot is the per-slot status document, upserted by slot number.
type Slot struct {
	Slot      int64     `bson:"slot"`
	Parent    *int64    `bson:"parent,omitempty"`
	Status    string    `bson:"status"`
	Level     string    `bson:"level"`
	UpdatedOn time.Time `bson:"updated_on"`
}

// SetLevel implements Body.
func (s *Slot) SetLevel(l slots.Level) { s.Level = l.String() }

// FromSlotStatus transforms a slot-status update into its document.
func FromSlotStatus(u *geyser.SlotStatusUpdate) (Document, error) {
	if u.Status == slots.Unknown {
		return Document{}, transformErrf("slot", "status is unknown")
	}
	var body = &Slot{
		Slot:      int64(u.Slot),
		Status:    u.Status.String(),
		UpdatedOn: u.ReceivedAt.UTC(),
	}
	if u.Parent != nil {
		var p = int64(*u.Parent)
		body.Parent = &p
	}
	return Document{
		Collection: Slots,
		ID:         idOfSlot(u.Slot),
		Slot:       u.Slot,
		Size:       16,
		Body:       body,
	}, nil
}

func toInt64s(in []uint64) []int64 {
	var out = make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
