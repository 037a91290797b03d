// Package geyser defines the records delivered by the host node's
// notification interface. The host invokes one callback per state change,
// synchronously and on its own threads; records are immutable once
// delivered. These shapes are given by the host interface and mirror its
// replica-info structures.
package geyser

import (
	"time"

	"github.com/solstream-io/mongosink/slots"
)

// AccountUpdate notifies a write of an account's state at a slot.
type AccountUpdate struct {
	// Pubkey is the 32-byte address of the account.
	Pubkey []byte
	// Owner is the 32-byte address of the program owning the account.
	Owner []byte
	// Lamports is the account balance.
	Lamports uint64
	// Executable marks the account as a loaded program.
	Executable bool
	// RentEpoch is the next epoch at which rent is due.
	RentEpoch uint64
	// Data is the raw account payload.
	Data []byte
	// WriteVersion orders updates of the same account within a slot.
	WriteVersion uint64
	// TxnSignature is the 64-byte signature of the transaction which wrote
	// the update, when known.
	TxnSignature []byte
	// Slot at which the update occurred.
	Slot uint64
	// IsStartup is set for updates streamed during snapshot restore,
	// before the host signals end-of-startup.
	IsStartup bool
	// ReceivedAt is the local arrival time of the notification.
	ReceivedAt time.Time
}

// TransactionUpdate notifies execution of a transaction within a slot.
type TransactionUpdate struct {
	// Signature is the 64-byte first signature of the transaction.
	Signature []byte
	// IsVote marks a vote transaction.
	IsVote bool
	// Slot in which the transaction executed.
	Slot uint64
	// Index is the position of the transaction within its slot.
	Index uint64
	// AccountKeys are all account addresses referenced by the message,
	// including loaded address-table entries.
	AccountKeys [][]byte
	// Fee charged to the payer, in lamports.
	Fee uint64
	// PreBalances and PostBalances are per-account lamport balances
	// before and after execution, index-aligned with AccountKeys.
	PreBalances  []uint64
	PostBalances []uint64
	// LogMessages emitted during execution, if recorded.
	LogMessages []string
	// Err is set if the transaction failed.
	Err *TxError
	// ReceivedAt is the local arrival time of the notification.
	ReceivedAt time.Time
}

// RewardKind classifies a block reward.
type RewardKind string

const (
	RewardFee     RewardKind = "fee"
	RewardRent    RewardKind = "rent"
	RewardStaking RewardKind = "staking"
	RewardVoting  RewardKind = "voting"
)

// Reward is a single block reward attribution.
type Reward struct {
	// Pubkey is the base-58 address credited, as reported by the host.
	Pubkey string
	// Lamports credited (or debited, if negative).
	Lamports int64
	// PostBalance of the account after the reward was applied.
	PostBalance uint64
	// Kind of the reward, empty if unreported.
	Kind RewardKind
	// Commission of the vote account, for voting/staking rewards.
	Commission *uint8
}

// BlockMeta notifies metadata of a produced block.
type BlockMeta struct {
	// Slot of the block.
	Slot uint64
	// Blockhash of the block.
	Blockhash string
	// ParentSlot and ParentBlockhash identify the parent block.
	ParentSlot      uint64
	ParentBlockhash string
	// Rewards distributed in the block.
	Rewards []Reward
	// BlockTime is the estimated production unix timestamp, zero if unknown.
	BlockTime int64
	// BlockHeight is the number of blocks beneath this one, when known.
	BlockHeight *uint64
	// ExecutedTransactionCount is the number of executed transactions.
	ExecutedTransactionCount uint64
	// ReceivedAt is the local arrival time of the notification.
	ReceivedAt time.Time
}

// SlotStatusUpdate notifies a slot's transition to a new consistency level.
type SlotStatusUpdate struct {
	// Slot which transitioned.
	Slot uint64
	// Parent slot, when reported.
	Parent *uint64
	// Status is the new consistency level.
	Status slots.Level
	// ReceivedAt is the local arrival time of the notification.
	ReceivedAt time.Time
}
