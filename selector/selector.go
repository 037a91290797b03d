// Package selector implements the filters which decide whether a notified
// record is persisted. Selectors are built once from configuration, are
// immutable thereafter, and are consulted on the host notification path:
// evaluation is a set-membership test which never blocks or allocates.
package selector

import (
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Wildcard selects all records of a kind when present in a configured list.
const Wildcard = "*"

// AllVotes, when present in a transaction mention list, selects every vote
// transaction in addition to any explicitly mentioned keys.
const AllVotes = "all_votes"

// AccountsSelector decides whether an account update is persisted.
// An update is selected if its key is in the configured key set, OR its
// owner program is in the configured owner set, OR the wildcard is set.
type AccountsSelector struct {
	accounts  map[string]struct{}
	owners    map[string]struct{}
	selectAll bool
}

// NewAccountsSelector builds an AccountsSelector from base-58 encoded
// account and owner keys. A Wildcard entry among |accounts| selects all
// accounts. A key which fails to decode is a configuration error.
func NewAccountsSelector(accounts, owners []string) (*AccountsSelector, error) {
	log.WithFields(log.Fields{"accounts": len(accounts), "owners": len(owners)}).
		Info("building accounts selector")

	var s = &AccountsSelector{
		accounts: make(map[string]struct{}),
		owners:   make(map[string]struct{}),
	}
	for _, key := range accounts {
		if key == Wildcard {
			return &AccountsSelector{selectAll: true}, nil
		}
	}
	for _, key := range accounts {
		var b, err = base58.Decode(key)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding account key %q", key)
		}
		s.accounts[string(b)] = struct{}{}
	}
	for _, key := range owners {
		var b, err = base58.Decode(key)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding owner key %q", key)
		}
		s.owners[string(b)] = struct{}{}
	}
	return s, nil
}

// Select returns whether an update of account |pubkey| owned by program
// |owner| should be persisted.
func (s *AccountsSelector) Select(pubkey, owner []byte) bool {
	if s.selectAll {
		return true
	}
	if _, ok := s.accounts[string(pubkey)]; ok {
		return true
	}
	_, ok := s.owners[string(owner)]
	return ok
}

// Enabled is false if the selector can never match, allowing callers to
// skip account notification handling entirely.
func (s *AccountsSelector) Enabled() bool {
	return s.selectAll || len(s.accounts) != 0 || len(s.owners) != 0
}

// TransactionSelector decides whether a transaction is persisted.
// A transaction is selected if any account it mentions is in the configured
// mention set, OR the wildcard is set, OR it is a vote transaction and vote
// selection is enabled. A nil or empty selector never selects: absent
// transaction configuration means no transactions are stored.
type TransactionSelector struct {
	mentions  map[string]struct{}
	selectAll bool
	votes     bool
}

// NewTransactionSelector builds a TransactionSelector from a base-58
// encoded mention list, which may also contain the Wildcard or AllVotes
// tokens.
func NewTransactionSelector(mentions []string) (*TransactionSelector, error) {
	var s = &TransactionSelector{mentions: make(map[string]struct{})}

	for _, key := range mentions {
		switch key {
		case Wildcard:
			s.selectAll = true
		case AllVotes:
			s.votes = true
		default:
			var b, err = base58.Decode(key)
			if err != nil {
				return nil, errors.Wrapf(err, "decoding mention key %q", key)
			}
			s.mentions[string(b)] = struct{}{}
		}
	}
	log.WithFields(log.Fields{
		"mentions": len(s.mentions),
		"all":      s.selectAll,
		"votes":    s.votes,
	}).Info("built transaction selector")

	return s, nil
}

// Select returns whether a transaction which is |isVote| and mentions
// |accountKeys| should be persisted.
func (s *TransactionSelector) Select(isVote bool, accountKeys [][]byte) bool {
	if s == nil {
		return false
	}
	if s.selectAll {
		return true
	}
	if s.votes && isVote {
		return true
	}
	for _, key := range accountKeys {
		if _, ok := s.mentions[string(key)]; ok {
			return true
		}
	}
	return false
}

// Enabled is false if the selector can never match.
func (s *TransactionSelector) Enabled() bool {
	return s != nil && (s.selectAll || s.votes || len(s.mentions) != 0)
}
