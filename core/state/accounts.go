package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lumenchain/core/types"
)

// The spendable balance and nonce live in a go-ethereum StateAccount record so
// the EVM sees the same funds as the native ledger. Reserved deposits and
// secondary asset balances live in a companion metadata record.
type accountMetadata struct {
	Reserved *big.Int
	Assets   []assetEntry
}

type assetEntry struct {
	Asset  string
	Amount *big.Int
}

func ensureAccountDefaults(account *types.Account) {
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	if account.Reserved == nil {
		account.Reserved = big.NewInt(0)
	}
	if len(account.StorageRoot) == 0 {
		account.StorageRoot = gethtypes.EmptyRootHash.Bytes()
	}
	if len(account.CodeHash) == 0 {
		account.CodeHash = gethtypes.EmptyCodeHash.Bytes()
	}
}

// HasAccount reports whether any state exists under the address.
func (m *Manager) HasAccount(addr []byte) (bool, error) {
	if len(addr) == 0 {
		return false, fmt.Errorf("address must not be empty")
	}
	data, err := m.trie.Get(accountStateKey(addr))
	if err != nil {
		return false, err
	}
	if len(data) > 0 {
		return true, nil
	}
	data, err = m.trie.Get(accountMetadataKey(addr))
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

// GetAccount reconstructs the account stored under the provided address. A
// missing account is returned in its default zero state.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	stateAcc, err := m.loadStateAccount(addr)
	if err != nil {
		return nil, err
	}
	meta, err := m.loadAccountMetadata(addr)
	if err != nil {
		return nil, err
	}

	account := &types.Account{
		Balance:     big.NewInt(0),
		Reserved:    big.NewInt(0),
		StorageRoot: gethtypes.EmptyRootHash.Bytes(),
		CodeHash:    gethtypes.EmptyCodeHash.Bytes(),
	}
	if stateAcc != nil {
		if stateAcc.Balance != nil {
			account.Balance = stateAcc.Balance.ToBig()
		}
		account.Nonce = stateAcc.Nonce
		account.StorageRoot = stateAcc.Root.Bytes()
		account.CodeHash = common.CopyBytes(stateAcc.CodeHash)
	}
	if meta != nil {
		if meta.Reserved != nil {
			account.Reserved = new(big.Int).Set(meta.Reserved)
		}
		for _, entry := range meta.Assets {
			if entry.Amount == nil {
				continue
			}
			account.SetAssetBalance(entry.Asset, entry.Amount)
		}
	}
	ensureAccountDefaults(account)
	return account, nil
}

// PutAccount persists the provided account state under the supplied address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("nil account")
	}
	ensureAccountDefaults(account)

	balance, overflow := uint256.FromBig(account.Balance)
	if overflow {
		return types.ErrAmountRange
	}
	stateAcc := &gethtypes.StateAccount{
		Nonce:    account.Nonce,
		Balance:  balance,
		Root:     common.BytesToHash(account.StorageRoot),
		CodeHash: common.CopyBytes(account.CodeHash),
	}
	if len(stateAcc.CodeHash) == 0 {
		stateAcc.CodeHash = gethtypes.EmptyCodeHash.Bytes()
	}
	if stateAcc.Root == (common.Hash{}) {
		stateAcc.Root = gethtypes.EmptyRootHash
	}
	if err := m.writeStateAccount(addr, stateAcc); err != nil {
		return err
	}

	meta := &accountMetadata{Reserved: new(big.Int).Set(account.Reserved)}
	assets := make([]assetEntry, 0, len(account.Assets))
	for asset, amount := range account.Assets {
		if amount == nil {
			amount = big.NewInt(0)
		}
		assets = append(assets, assetEntry{Asset: asset, Amount: new(big.Int).Set(amount)})
	}
	// Deterministic encoding: the trie root must not depend on map order.
	sort.Slice(assets, func(i, j int) bool { return assets[i].Asset < assets[j].Asset })
	meta.Assets = assets
	return m.writeAccountMetadata(addr, meta)
}

func (m *Manager) loadStateAccount(addr []byte) (*gethtypes.StateAccount, error) {
	data, err := m.trie.Get(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	stateAcc := new(gethtypes.StateAccount)
	if err := rlp.DecodeBytes(data, stateAcc); err != nil {
		return nil, err
	}
	return stateAcc, nil
}

func (m *Manager) writeStateAccount(addr []byte, stateAcc *gethtypes.StateAccount) error {
	encoded, err := rlp.EncodeToBytes(stateAcc)
	if err != nil {
		return err
	}
	return m.trie.Update(accountStateKey(addr), encoded)
}

func (m *Manager) loadAccountMetadata(addr []byte) (*accountMetadata, error) {
	data, err := m.trie.Get(accountMetadataKey(addr))
	if err != nil {
		return nil, err
	}
	meta := &accountMetadata{Reserved: big.NewInt(0)}
	if len(data) == 0 {
		return meta, nil
	}
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	if meta.Reserved == nil {
		meta.Reserved = big.NewInt(0)
	}
	return meta, nil
}

func (m *Manager) writeAccountMetadata(addr []byte, meta *accountMetadata) error {
	if meta.Reserved == nil {
		meta.Reserved = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.trie.Update(accountMetadataKey(addr), encoded)
}
