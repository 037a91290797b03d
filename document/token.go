package document

import (
	"time"

	"github.com/mr-tron/base58"

	"github.com/solstream-io/mongosink/geyser"
	"github.com/solstream-io/mongosink/slots"
)

// tokenProgramKey is the SPL token program address. Accounts owned by it
// carry the token-account layout: mint at bytes [0,32), owner at [32,64).
var tokenProgramKey = func() []byte {
	var b, err = base58.Decode("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	if err != nil {
		panic(err)
	}
	return b
}()

// tokenAccountDataLen is the serialized size of a token account.
const tokenAccountDataLen = 165

// TokenIndexEntry is a secondary-index row mapping a token account to its
// owner (token_owner_index) or its mint (token_mint_index). Entries are
// append-only; the sweeper prunes them by slot alongside other collections.
type TokenIndexEntry struct {
	// SecondaryKey is the owner or mint pubkey, per collection.
	SecondaryKey string    `bson:"secondary_key"`
	AccountKey   string    `bson:"account_key"`
	Slot         int64     `bson:"slot"`
	Level        string    `bson:"level"`
	UpdatedOn    time.Time `bson:"updated_on"`
}

// SetLevel implements Body.
func (e *TokenIndexEntry) SetLevel(l slots.Level) { e.Level = l.String() }

// IsTokenAccount returns whether an account update carries the SPL token
// account layout.
func IsTokenAccount(u *geyser.AccountUpdate) bool {
	return string(u.Owner) == string(tokenProgramKey) &&
		len(u.Data) >= tokenAccountDataLen
}

// TokenIndexesOf derives the requested secondary-index documents of a token
// account update. Non-token accounts yield no entries. The update's pubkey
// must already have been validated by FromAccountUpdate.
func TokenIndexesOf(u *geyser.AccountUpdate, indexOwner, indexMint bool) []Document {
	if (!indexOwner && !indexMint) || !IsTokenAccount(u) {
		return nil
	}
	var (
		mint       = base58.Encode(u.Data[0:32])
		owner      = base58.Encode(u.Data[32:64])
		accountKey = base58.Encode(u.Pubkey)
		out        []Document
	)
	if indexOwner {
		out = append(out, Document{
			Collection: TokenOwnerIndex,
			Slot:       u.Slot,
			Size:       3 * pubkeyLen,
			Body: &TokenIndexEntry{
				SecondaryKey: owner,
				AccountKey:   accountKey,
				Slot:         int64(u.Slot),
				UpdatedOn:    u.ReceivedAt.UTC(),
			},
		})
	}
	if indexMint {
		out = append(out, Document{
			Collection: TokenMintIndex,
			Slot:       u.Slot,
			Size:       3 * pubkeyLen,
			Body: &TokenIndexEntry{
				SecondaryKey: mint,
				AccountKey:   accountKey,
				Slot:         int64(u.Slot),
				UpdatedOn:    u.ReceivedAt.UTC(),
			},
		})
	}
	return out
}
