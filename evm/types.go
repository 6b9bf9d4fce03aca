package evm

import (
	"math/big"
)

// CallParams describes a contract invocation against deployed code.
type CallParams struct {
	From     []byte
	To       []byte
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	// Nonce, when set, must match the caller's current account nonce.
	Nonce *uint64
}

// CreateParams describes a contract deployment. Salt is only consulted by
// Create2, where it makes the resulting address a pure function of the
// deployer, salt and init code.
type CreateParams struct {
	From     []byte
	Code     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Salt     [32]byte
	Nonce    *uint64
}

// CallInfo reports the outcome of a Call dispatch. A contract revert or
// out-of-gas condition is a successful dispatch with Reverted/VMError set;
// only infrastructure failures surface as Go errors from the keeper.
type CallInfo struct {
	Ret      []byte
	UsedGas  uint64
	GasLeft  uint64
	Reverted bool
	VMError  string
}

// CreateInfo reports the outcome of a Create or Create2 dispatch.
type CreateInfo struct {
	Ret             []byte
	ContractAddress []byte
	UsedGas         uint64
	GasLeft         uint64
	Reverted        bool
	VMError         string
}
