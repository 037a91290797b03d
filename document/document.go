// Package document converts accepted host records into the BSON documents
// persisted to the store. Transformation is pure and deterministic, and
// fails closed: a malformed record yields a TransformError and no document.
package document

import (
	"fmt"
	"strconv"

	"github.com/solstream-io/mongosink/slots"
)

// Collection names a target store collection.
type Collection string

const (
	// Accounts holds the current state of each selected account,
	// upserted by key.
	Accounts Collection = "accounts"
	// AccountAudit is an append-only history of applied account versions.
	AccountAudit Collection = "account_audit"
	// Transactions holds executed transactions, inserted once by signature.
	Transactions Collection = "transaction"
	// Blocks holds block metadata, inserted once by height.
	Blocks Collection = "block"
	// Slots holds per-slot status, upserted by slot number.
	Slots Collection = "slot"
	// TokenOwnerIndex and TokenMintIndex are secondary indexes of
	// token accounts by owner and by mint.
	TokenOwnerIndex Collection = "token_owner_index"
	TokenMintIndex  Collection = "token_mint_index"
)

// All lists every collection the pipeline may write, in a stable order.
func All() []Collection {
	return []Collection{
		Accounts, AccountAudit, Transactions, Blocks, Slots,
		TokenOwnerIndex, TokenMintIndex,
	}
}

// Body is a BSON-marshalable document body. Bodies are tagged with their
// slot's consistency level at write time, not at transform time, so the
// persisted level reflects the slot's state when the write was issued.
type Body interface {
	SetLevel(l slots.Level)
}

// Document is one logical row destined for one collection.
type Document struct {
	// Collection the document belongs to.
	Collection Collection
	// ID is the document's stable identifier within its collection,
	// empty for append-only collections.
	ID string
	// Slot the document's data belongs to.
	Slot uint64
	// Size is the approximate marshaled size, used for flush accounting.
	Size int
	// Body is the persisted content.
	Body Body
}

// TransformError reports a malformed record which could not be converted.
type TransformError struct {
	Kind   string // Record kind: "account", "transaction", "block", "slot".
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transforming %s record: %s", e.Kind, e.Reason)
}

func transformErrf(kind, format string, args ...interface{}) error {
	return &TransformError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsTransformError returns whether |err| is a TransformError.
func IsTransformError(err error) bool {
	_, ok := err.(*TransformError)
	return ok
}

// idOfSlot renders a numeric identifier as a document ID.
func idOfSlot(n uint64) string { return strconv.FormatUint(n, 10) }
