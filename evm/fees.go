package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/holiman/uint256"
)

// withdrawFee debits the dispatch fee upper bound (gas limit times gas price)
// from the payer. Execution must not start when the payer cannot cover it.
func (k *Keeper) withdrawFee(statedb *gethstate.StateDB, payer common.Address, gasLimit uint64, gasPrice *big.Int) (*uint256.Int, error) {
	fee, err := feeAmount(gasLimit, gasPrice)
	if err != nil {
		return nil, err
	}
	if fee.IsZero() {
		return fee, nil
	}
	if statedb.GetBalance(payer).Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: fee upper bound %s", ErrInsufficientBalance, fee)
	}
	statedb.SubBalance(payer, fee, tracing.BalanceDecreaseGasBuy)
	return fee, nil
}

// correctAndDepositFee refunds the slack between the withdrawn upper bound
// and the fee actually consumed. A revert consumes its gas, so no refund
// beyond the unused remainder is ever issued.
func (k *Keeper) correctAndDepositFee(statedb *gethstate.StateDB, payer common.Address, usedGas uint64, gasPrice *big.Int, withdrawn *uint256.Int) {
	if withdrawn == nil || withdrawn.IsZero() {
		return
	}
	actual, err := feeAmount(usedGas, gasPrice)
	if err != nil || actual.Cmp(withdrawn) >= 0 {
		return
	}
	refund := new(uint256.Int).Sub(withdrawn, actual)
	statedb.AddBalance(payer, refund, tracing.BalanceIncreaseGasReturn)
}

func feeAmount(gas uint64, gasPrice *big.Int) (*uint256.Int, error) {
	if gasPrice == nil || gasPrice.Sign() == 0 {
		return uint256.NewInt(0), nil
	}
	if gasPrice.Sign() < 0 {
		return nil, ErrValueOverflow
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	word, overflow := uint256.FromBig(fee)
	if overflow {
		return nil, ErrValueOverflow
	}
	return word, nil
}
