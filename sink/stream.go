package sink

import (
	"encoding/json"
	"io"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/solstream-io/mongosink/geyser"
	"github.com/solstream-io/mongosink/slots"
)

// StreamReader decodes a stream of JSON-framed notification records and
// dispatches each to a Sink's callbacks. It serves the standalone binary,
// which receives records from the host process over a pipe; embedders call
// the Sink's callbacks directly instead.
//
// Each record is one JSON object carrying a type tag and the matching
// payload. Account addresses and signatures are base58 strings; account
// data is base64 (encoding/json's []byte convention).
type StreamReader struct {
	dec  *json.Decoder
	sink *Sink
}

// NewStreamReader returns a StreamReader over |r| feeding |s|.
func NewStreamReader(r io.Reader, s *Sink) *StreamReader {
	return &StreamReader{dec: json.NewDecoder(r), sink: s}
}

type streamRecord struct {
	Type string `json:"type"`

	Account     *accountRecord     `json:"account,omitempty"`
	Transaction *transactionRecord `json:"transaction,omitempty"`
	Block       *blockRecord       `json:"block,omitempty"`
	Slot        *slotRecord        `json:"slot,omitempty"`
}

type accountRecord struct {
	Pubkey       string `json:"pubkey"`
	Owner        string `json:"owner"`
	Lamports     uint64 `json:"lamports"`
	Executable   bool   `json:"executable"`
	RentEpoch    uint64 `json:"rent_epoch"`
	Data         []byte `json:"data"`
	WriteVersion uint64 `json:"write_version"`
	TxnSignature string `json:"txn_signature,omitempty"`
	Slot         uint64 `json:"slot"`
	IsStartup    bool   `json:"is_startup,omitempty"`
}

type transactionRecord struct {
	Signature    string    `json:"signature"`
	IsVote       bool      `json:"is_vote,omitempty"`
	Slot         uint64    `json:"slot"`
	Index        uint64    `json:"index"`
	AccountKeys  []string  `json:"account_keys"`
	Fee          uint64    `json:"fee"`
	PreBalances  []uint64  `json:"pre_balances"`
	PostBalances []uint64  `json:"post_balances"`
	LogMessages  []string  `json:"log_messages,omitempty"`
	Err          *txRecord `json:"err,omitempty"`
}

type txRecord struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

type blockRecord struct {
	Slot             uint64         `json:"slot"`
	Blockhash        string         `json:"blockhash"`
	ParentSlot       uint64         `json:"parent_slot"`
	ParentBlockhash  string         `json:"parent_blockhash,omitempty"`
	Rewards          []rewardRecord `json:"rewards,omitempty"`
	BlockTime        int64          `json:"block_time,omitempty"`
	BlockHeight      *uint64        `json:"block_height,omitempty"`
	TransactionCount uint64         `json:"transaction_count"`
}

type rewardRecord struct {
	Pubkey      string `json:"pubkey"`
	Lamports    int64  `json:"lamports"`
	PostBalance uint64 `json:"post_balance"`
	Kind        string `json:"kind"`
	Commission  *uint8 `json:"commission,omitempty"`
}

type slotRecord struct {
	Slot   uint64  `json:"slot"`
	Parent *uint64 `json:"parent,omitempty"`
	Status string  `json:"status"`
}

// Read dispatches records until the stream ends. It returns nil on a clean
// EOF, and the decoding error otherwise.
func (r *StreamReader) Read() error {
	for {
		var rec streamRecord
		if err := r.dec.Decode(&rec); err == io.EOF {
			return nil
		} else if err != nil {
			return errors.WithMessage(err, "decoding record")
		}

		var err error
		switch rec.Type {
		case "account":
			err = r.onAccount(rec.Account)
		case "transaction":
			err = r.onTransaction(rec.Transaction)
		case "block":
			err = r.onBlock(rec.Block)
		case "slot":
			err = r.onSlot(rec.Slot)
		case "end_of_startup":
			r.sink.EndOfStartup()
		default:
			err = errors.Errorf("unknown record type %q", rec.Type)
		}
		if err != nil {
			// A malformed record is logged and skipped; the stream
			// continues.
			log.WithFields(log.Fields{"type": rec.Type, "err": err}).
				Warn("skipping malformed stream record")
		}
	}
}

func (r *StreamReader) onAccount(rec *accountRecord) error {
	if rec == nil {
		return errors.New("missing account payload")
	}
	var pubkey, err = base58.Decode(rec.Pubkey)
	if err != nil {
		return errors.WithMessage(err, "decoding pubkey")
	}
	owner, err := base58.Decode(rec.Owner)
	if err != nil {
		return errors.WithMessage(err, "decoding owner")
	}
	var u = &geyser.AccountUpdate{
		Pubkey:       pubkey,
		Owner:        owner,
		Lamports:     rec.Lamports,
		Executable:   rec.Executable,
		RentEpoch:    rec.RentEpoch,
		Data:         rec.Data,
		WriteVersion: rec.WriteVersion,
		Slot:         rec.Slot,
		IsStartup:    rec.IsStartup,
		ReceivedAt:   time.Now(),
	}
	if rec.TxnSignature != "" {
		if u.TxnSignature, err = base58.Decode(rec.TxnSignature); err != nil {
			return errors.WithMessage(err, "decoding txn signature")
		}
	}
	r.sink.OnAccountUpdate(u)
	return nil
}

func (r *StreamReader) onTransaction(rec *transactionRecord) error {
	if rec == nil {
		return errors.New("missing transaction payload")
	}
	var sig, err = base58.Decode(rec.Signature)
	if err != nil {
		return errors.WithMessage(err, "decoding signature")
	}
	var keys = make([][]byte, 0, len(rec.AccountKeys))
	for i, k := range rec.AccountKeys {
		var key []byte
		if key, err = base58.Decode(k); err != nil {
			return errors.WithMessagef(err, "decoding account key %d", i)
		}
		keys = append(keys, key)
	}
	var u = &geyser.TransactionUpdate{
		Signature:    sig,
		IsVote:       rec.IsVote,
		Slot:         rec.Slot,
		Index:        rec.Index,
		AccountKeys:  keys,
		Fee:          rec.Fee,
		PreBalances:  rec.PreBalances,
		PostBalances: rec.PostBalances,
		LogMessages:  rec.LogMessages,
		ReceivedAt:   time.Now(),
	}
	if rec.Err != nil {
		u.Err = &geyser.TxError{
			Code:   geyser.TxErrorCode(rec.Err.Code),
			Detail: rec.Err.Detail,
		}
	}
	r.sink.OnTransaction(u)
	return nil
}

func (r *StreamReader) onBlock(rec *blockRecord) error {
	if rec == nil {
		return errors.New("missing block payload")
	}
	var u = &geyser.BlockMeta{
		Slot:                     rec.Slot,
		Blockhash:                rec.Blockhash,
		ParentSlot:               rec.ParentSlot,
		ParentBlockhash:          rec.ParentBlockhash,
		BlockTime:                rec.BlockTime,
		BlockHeight:              rec.BlockHeight,
		ExecutedTransactionCount: rec.TransactionCount,
		ReceivedAt:               time.Now(),
	}
	for _, rw := range rec.Rewards {
		u.Rewards = append(u.Rewards, geyser.Reward{
			Pubkey:      rw.Pubkey,
			Lamports:    rw.Lamports,
			PostBalance: rw.PostBalance,
			Kind:        geyser.RewardKind(rw.Kind),
			Commission:  rw.Commission,
		})
	}
	r.sink.OnBlockMeta(u)
	return nil
}

func (r *StreamReader) onSlot(rec *slotRecord) error {
	if rec == nil {
		return errors.New("missing slot payload")
	}
	var level, err = parseLevel(rec.Status)
	if err != nil {
		return err
	}
	r.sink.OnSlotStatus(&geyser.SlotStatusUpdate{
		Slot:       rec.Slot,
		Parent:     rec.Parent,
		Status:     level,
		ReceivedAt: time.Now(),
	})
	return nil
}

func parseLevel(s string) (slots.Level, error) {
	switch s {
	case "processed":
		return slots.Processed, nil
	case "confirmed":
		return slots.Confirmed, nil
	case "rooted":
		return slots.Rooted, nil
	case "forked":
		return slots.Forked, nil
	default:
		return slots.Unknown, errors.Errorf("unknown slot status %q", s)
	}
}
