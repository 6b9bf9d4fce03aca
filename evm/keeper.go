package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	gethstate "github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// StateBackend is the slice of the state processor the keeper needs: the root
// to open execution state at, the shared state database, and a way to hand the
// post-execution root back to the native ledger.
type StateBackend interface {
	PendingRoot() common.Hash
	StateDB() *gethstate.CachingDB
	AdoptRoot(root common.Hash) error
}

// Keeper dispatches contract calls and deployments through the go-ethereum
// virtual machine. The chain ruleset and interpreter configuration are fixed
// at construction; per-block context (height, time) is refreshed by the block
// pipeline before execution.
type Keeper struct {
	backend     StateBackend
	mapping     AddressMapping
	chainConfig *params.ChainConfig
	vmConfig    gethvm.Config
	logger      *slog.Logger

	blockNumber *big.Int
	blockTime   uint64
}

// NewKeeper wires a keeper over the shared state backend. A nil mapping
// defaults to the identity scheme and a nil chain config to the permissive
// test ruleset the node runs with.
func NewKeeper(backend StateBackend, mapping AddressMapping, chainConfig *params.ChainConfig, vmConfig gethvm.Config, logger *slog.Logger) *Keeper {
	if mapping == nil {
		mapping = IdentityMapping{}
	}
	if chainConfig == nil {
		chainConfig = params.TestChainConfig
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		backend:     backend,
		mapping:     mapping,
		chainConfig: chainConfig,
		vmConfig:    vmConfig,
		logger:      logger,
		blockNumber: big.NewInt(0),
	}
}

// SetBlockContext pins the block height and timestamp used for subsequent
// dispatches. Called once per block, before the first transaction.
func (k *Keeper) SetBlockContext(height uint64, blockTime uint64) {
	k.blockNumber = new(big.Int).SetUint64(height)
	k.blockTime = blockTime
}

// Call executes deployed contract code at params.To.
//
// The fee upper bound (gas limit times gas price) is withdrawn from the
// caller before execution and the unused remainder refunded afterwards. A
// contract revert keeps the consumed fee; only value and storage effects are
// unwound.
func (k *Keeper) Call(ctx context.Context, call CallParams) (*CallInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, err := k.mapping.ToEVM(call.From)
	if err != nil {
		return nil, err
	}
	to, err := k.mapping.ToEVM(call.To)
	if err != nil {
		return nil, err
	}
	value, err := amountToWord(call.Value)
	if err != nil {
		return nil, err
	}

	statedb, err := gethstate.New(k.backend.PendingRoot(), k.backend.StateDB())
	if err != nil {
		return nil, fmt.Errorf("statedb init: %w", err)
	}
	if err := k.checkNonce(statedb, from, call.Nonce); err != nil {
		return nil, err
	}
	withdrawn, err := k.withdrawFee(statedb, from, call.GasLimit, call.GasPrice)
	if err != nil {
		return nil, err
	}
	if statedb.GetBalance(from).Cmp(value) < 0 {
		return nil, fmt.Errorf("%w: value %s exceeds balance", ErrInsufficientBalance, value)
	}

	evm := k.newEVM(statedb, from, call.GasPrice)
	statedb.SetNonce(from, statedb.GetNonce(from)+1, tracing.NonceChangeEoACall)

	ret, gasLeft, vmErr := evm.Call(from, to, call.Data, call.GasLimit, value)
	info := &CallInfo{
		Ret:     ret,
		UsedGas: call.GasLimit - gasLeft,
		GasLeft: gasLeft,
	}
	if vmErr != nil {
		info.Reverted = errors.Is(vmErr, gethvm.ErrExecutionReverted)
		info.VMError = vmErr.Error()
	}
	k.correctAndDepositFee(statedb, from, info.UsedGas, call.GasPrice, withdrawn)

	if err := k.commit(statedb); err != nil {
		return nil, err
	}
	k.logger.Debug("evm call dispatched",
		"to", to.Hex(), "used_gas", info.UsedGas, "reverted", info.Reverted)
	return info, nil
}

// Create deploys init code at the address derived from the deployer and its
// account nonce. The nonce bump happens inside the virtual machine as part of
// address derivation.
func (k *Keeper) Create(ctx context.Context, create CreateParams) (*CreateInfo, error) {
	return k.create(ctx, create, false)
}

// Create2 deploys init code at the address derived from the deployer, the
// salt and the init code hash, independent of the account nonce.
func (k *Keeper) Create2(ctx context.Context, create CreateParams) (*CreateInfo, error) {
	return k.create(ctx, create, true)
}

func (k *Keeper) create(ctx context.Context, create CreateParams, salted bool) (*CreateInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, err := k.mapping.ToEVM(create.From)
	if err != nil {
		return nil, err
	}
	value, err := amountToWord(create.Value)
	if err != nil {
		return nil, err
	}

	statedb, err := gethstate.New(k.backend.PendingRoot(), k.backend.StateDB())
	if err != nil {
		return nil, fmt.Errorf("statedb init: %w", err)
	}
	if err := k.checkNonce(statedb, from, create.Nonce); err != nil {
		return nil, err
	}
	withdrawn, err := k.withdrawFee(statedb, from, create.GasLimit, create.GasPrice)
	if err != nil {
		return nil, err
	}
	if statedb.GetBalance(from).Cmp(value) < 0 {
		return nil, fmt.Errorf("%w: endowment %s exceeds balance", ErrInsufficientBalance, value)
	}

	evm := k.newEVM(statedb, from, create.GasPrice)

	var (
		ret      []byte
		deployed common.Address
		gasLeft  uint64
		vmErr    error
	)
	if salted {
		salt := new(uint256.Int).SetBytes(create.Salt[:])
		ret, deployed, gasLeft, vmErr = evm.Create2(from, create.Code, create.GasLimit, value, salt)
	} else {
		ret, deployed, gasLeft, vmErr = evm.Create(from, create.Code, create.GasLimit, value)
	}
	info := &CreateInfo{
		Ret:     ret,
		UsedGas: create.GasLimit - gasLeft,
		GasLeft: gasLeft,
	}
	if vmErr != nil {
		info.Reverted = errors.Is(vmErr, gethvm.ErrExecutionReverted)
		info.VMError = vmErr.Error()
	} else {
		info.ContractAddress = k.mapping.FromEVM(deployed)
	}
	k.correctAndDepositFee(statedb, from, info.UsedGas, create.GasPrice, withdrawn)

	if err := k.commit(statedb); err != nil {
		return nil, err
	}
	k.logger.Debug("evm create dispatched",
		"salted", salted, "used_gas", info.UsedGas, "reverted", info.Reverted)
	return info, nil
}

func (k *Keeper) newEVM(statedb *gethstate.StateDB, origin common.Address, gasPrice *big.Int) *gethvm.EVM {
	blockCtx := gethvm.BlockContext{
		CanTransfer: gethcore.CanTransfer,
		Transfer:    gethcore.Transfer,
		Coinbase:    common.Address{},
		BlockNumber: new(big.Int).Set(k.blockNumber),
		Time:        k.blockTime,
		Difficulty:  big.NewInt(0),
		GasLimit:    blockGasLimit,
	}
	cfg := k.vmConfig
	cfg.NoBaseFee = true
	evm := gethvm.NewEVM(blockCtx, statedb, k.chainConfig, cfg)
	if gasPrice == nil {
		gasPrice = big.NewInt(0)
	}
	evm.SetTxContext(gethvm.TxContext{Origin: origin, GasPrice: new(big.Int).Set(gasPrice)})
	return evm
}

func (k *Keeper) checkNonce(statedb *gethstate.StateDB, from common.Address, nonce *uint64) error {
	if nonce == nil {
		return nil
	}
	if current := statedb.GetNonce(from); current != *nonce {
		return fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, *nonce, current)
	}
	return nil
}

func (k *Keeper) commit(statedb *gethstate.StateDB) error {
	root, err := statedb.Commit(k.blockNumber.Uint64(), false, false)
	if err != nil {
		return fmt.Errorf("statedb commit: %w", err)
	}
	if err := k.backend.AdoptRoot(root); err != nil {
		return fmt.Errorf("adopt root: %w", err)
	}
	return nil
}

// blockGasLimit caps the per-dispatch gas allowance announced to contracts.
const blockGasLimit = 30_000_000

func amountToWord(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return uint256.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrValueOverflow
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrValueOverflow
	}
	return word, nil
}
