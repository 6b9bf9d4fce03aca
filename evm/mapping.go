package evm

import (
	"github.com/ethereum/go-ethereum/common"
)

// AddressMapping converts chain account addresses to and from the 160-bit
// address space the virtual machine operates on.
type AddressMapping interface {
	ToEVM(addr []byte) (common.Address, error)
	FromEVM(addr common.Address) []byte
}

// IdentityMapping maps 20-byte chain addresses onto machine addresses
// byte-for-byte. It is the scheme used by the node: account addresses and
// machine addresses share one key space, so contracts observe the same
// balances as the native ledger.
type IdentityMapping struct{}

func (IdentityMapping) ToEVM(addr []byte) (common.Address, error) {
	if len(addr) != common.AddressLength {
		return common.Address{}, ErrInvalidAddress
	}
	return common.BytesToAddress(addr), nil
}

func (IdentityMapping) FromEVM(addr common.Address) []byte {
	out := make([]byte, common.AddressLength)
	copy(out, addr.Bytes())
	return out
}
