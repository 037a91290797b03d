package selector

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config is the YAML shape of a selectors file.
type Config struct {
	Accounts struct {
		Keys   []string `yaml:"keys"`
		Owners []string `yaml:"owners"`
	} `yaml:"accounts"`
	Transactions struct {
		Mentions []string `yaml:"mentions"`
	} `yaml:"transactions"`
}

// Build materializes the configured selectors. The returned
// TransactionSelector is nil if no transaction mentions are configured.
func (c Config) Build() (*AccountsSelector, *TransactionSelector, error) {
	var accts, err = NewAccountsSelector(c.Accounts.Keys, c.Accounts.Owners)
	if err != nil {
		return nil, nil, err
	}
	var txns *TransactionSelector
	if len(c.Transactions.Mentions) != 0 {
		if txns, err = NewTransactionSelector(c.Transactions.Mentions); err != nil {
			return nil, nil, err
		}
	}
	return accts, txns, nil
}

// LoadFile reads and parses a YAML selectors file.
func LoadFile(path string) (Config, error) {
	var cfg Config

	var data, err = os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading selectors file")
	}
	if err = yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing selectors file")
	}
	return cfg, nil
}
