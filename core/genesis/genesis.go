package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"lumenchain/core"
	"lumenchain/core/types"
	"lumenchain/crypto"
)

// Genesis is the chain's initial application state: funded accounts plus the
// validator candidates seeded before the first block. It arrives either from
// a local file or as the consensus engine's app_state blob at InitChain.
type Genesis struct {
	ChainID    uint64       `json:"chainId"`
	Alloc      []Allocation `json:"alloc"`
	Validators []Validator  `json:"validators"`
}

// Allocation funds one account. Amounts are decimal strings in base units.
type Allocation struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// Validator seeds one staking candidate. Stake is locked as the account's
// reserved deposit and determines initial voting power.
type Validator struct {
	Address string `json:"address"`
	PubKey  []byte `json:"pubKey"`
	Stake   string `json:"stake"`
	Moniker string `json:"moniker,omitempty"`
}

// Parse decodes and validates a genesis document.
func Parse(data []byte) (*Genesis, error) {
	var doc Genesis
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("genesis: decode: %w", err)
	}
	for i, alloc := range doc.Alloc {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return nil, fmt.Errorf("genesis: alloc %d: %w", i, err)
		}
		if _, err := parseAmount(alloc.Balance); err != nil {
			return nil, fmt.Errorf("genesis: alloc %d: %w", i, err)
		}
	}
	for i, validator := range doc.Validators {
		if _, err := crypto.DecodeAddress(validator.Address); err != nil {
			return nil, fmt.Errorf("genesis: validator %d: %w", i, err)
		}
		if len(validator.PubKey) == 0 {
			return nil, fmt.Errorf("genesis: validator %d: missing consensus public key", i)
		}
		if _, err := parseAmount(validator.Stake); err != nil {
			return nil, fmt.Errorf("genesis: validator %d: %w", i, err)
		}
	}
	return &doc, nil
}

// LoadFile reads and parses a genesis document from disk.
func LoadFile(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	return Parse(data)
}

// Apply seeds the state processor with the document's accounts and candidate
// table. It must run on empty state, before the first block.
func Apply(sp *core.StateProcessor, doc *Genesis) error {
	if doc == nil {
		return fmt.Errorf("genesis: nil document")
	}
	for _, alloc := range doc.Alloc {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return err
		}
		balance, err := parseAmount(alloc.Balance)
		if err != nil {
			return err
		}
		account, err := sp.GetAccount(addr.Bytes())
		if err != nil {
			return err
		}
		account.Balance = balance
		if err := sp.SetAccount(addr.Bytes(), account); err != nil {
			return err
		}
	}
	for _, validator := range doc.Validators {
		addr, err := crypto.DecodeAddress(validator.Address)
		if err != nil {
			return err
		}
		stake, err := parseAmount(validator.Stake)
		if err != nil {
			return err
		}
		account, err := sp.GetAccount(addr.Bytes())
		if err != nil {
			return err
		}
		account.Reserved = stake
		if err := sp.SetAccount(addr.Bytes(), account); err != nil {
			return err
		}
		err = sp.SetCandidate(types.Candidate{
			Address: addr.Bytes(),
			Power:   core.VotingPower(stake),
			PubKey:  append([]byte(nil), validator.PubKey...),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if !types.ValidAmount(amount) {
		return nil, fmt.Errorf("amount %q out of range", raw)
	}
	return amount, nil
}
