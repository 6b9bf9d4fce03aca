package types

import "math/big"

// Account is the ledger state kept per address. Balance holds the spendable
// native LUM amount, Reserved the locked staking deposit, and Assets the
// balances of secondary asset types. Accounts are created lazily on first
// credit and never deleted.
type Account struct {
	Nonce       uint64              `json:"nonce"`
	Balance     *big.Int            `json:"balance"`
	Reserved    *big.Int            `json:"reserved"`
	Assets      map[string]*big.Int `json:"assets,omitempty"`
	CodeHash    []byte              `json:"codeHash"`
	StorageRoot []byte              `json:"storageRoot"`
}

// AssetBalance returns the account's balance for the given asset type,
// defaulting to zero when the asset has never been credited.
func (a *Account) AssetBalance(asset string) *big.Int {
	if a.Assets == nil {
		return big.NewInt(0)
	}
	amount, ok := a.Assets[asset]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// SetAssetBalance records the account's balance for the given asset type.
func (a *Account) SetAssetBalance(asset string, amount *big.Int) {
	if a.Assets == nil {
		a.Assets = make(map[string]*big.Int)
	}
	a.Assets[asset] = new(big.Int).Set(amount)
}
