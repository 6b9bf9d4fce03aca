package core

import (
	"bytes"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethstate "github.com/ethereum/go-ethereum/core/state"

	lumstate "lumenchain/core/state"
	"lumenchain/core/types"
	"lumenchain/storage/trie"
)

// PowerReduction converts a reserved deposit (base units) into consensus
// voting power. The divisor is part of the protocol.
var PowerReduction = big.NewInt(1_000_000)

// StateProcessor applies deterministic ledger transitions on top of the state
// trie. It owns the in-progress mutation context for exactly one block at a
// time; callers must not retain it across transactions.
type StateProcessor struct {
	Trie          *trie.Trie
	stateDB       *gethstate.CachingDB
	chainID       uint64
	committedRoot common.Hash
}

// NewStateProcessor opens a processor over the provided trie.
func NewStateProcessor(tr *trie.Trie, chainID uint64) *StateProcessor {
	return &StateProcessor{
		Trie:          tr,
		stateDB:       gethstate.NewDatabase(tr.TrieDB(), nil),
		chainID:       chainID,
		committedRoot: tr.Root(),
	}
}

// ChainID returns the chain identifier the processor validates against.
func (sp *StateProcessor) ChainID() uint64 {
	return sp.chainID
}

// CurrentRoot returns the last committed state root.
func (sp *StateProcessor) CurrentRoot() common.Hash {
	return sp.committedRoot
}

// PendingRoot returns the root of the trie including in-memory mutations.
func (sp *StateProcessor) PendingRoot() common.Hash {
	return sp.Trie.Hash()
}

// StateDB exposes the go-ethereum state database layered over the same trie
// storage, used by the EVM dispatch path.
func (sp *StateProcessor) StateDB() *gethstate.CachingDB {
	return sp.stateDB
}

// AdoptRoot repoints the trie at a root produced by an external commit on the
// shared state database (the EVM path commits through go-ethereum's statedb).
func (sp *StateProcessor) AdoptRoot(root common.Hash) error {
	return sp.Trie.Reset(root)
}

// ResetToRoot discards any in-memory changes and reloads the trie at the
// provided committed root hash.
func (sp *StateProcessor) ResetToRoot(root common.Hash) error {
	if err := sp.Trie.Reset(root); err != nil {
		return err
	}
	sp.committedRoot = root
	return nil
}

// Commit persists the current trie contents and returns the resulting state
// root.
func (sp *StateProcessor) Commit(blockNumber uint64) (common.Hash, error) {
	newRoot, err := sp.Trie.Commit(sp.committedRoot, blockNumber)
	if err != nil {
		return common.Hash{}, err
	}
	sp.committedRoot = newRoot
	return newRoot, nil
}

// Copy returns a clone of the processor for speculative execution (admission
// checks) without mutating the canonical state.
func (sp *StateProcessor) Copy() *StateProcessor {
	return &StateProcessor{
		Trie:          sp.Trie.Copy(),
		stateDB:       sp.stateDB,
		chainID:       sp.chainID,
		committedRoot: sp.committedRoot,
	}
}

func (sp *StateProcessor) manager() *lumstate.Manager {
	return lumstate.NewManager(sp.Trie)
}

// GetAccount loads the account stored under addr, in default zero state when
// absent.
func (sp *StateProcessor) GetAccount(addr []byte) (*types.Account, error) {
	return sp.manager().GetAccount(addr)
}

// SetAccount overwrites the account stored under addr. Used by genesis
// initialisation; block-time transitions go through the typed operations.
func (sp *StateProcessor) SetAccount(addr []byte, account *types.Account) error {
	return sp.manager().PutAccount(addr, account)
}

// Candidates exposes the staking candidate table in deterministic order.
func (sp *StateProcessor) Candidates() ([]types.Candidate, error) {
	return sp.manager().Candidates()
}

// SetCandidate upserts a staking candidate record. Used by genesis
// initialisation; block-time changes go through stake/unstake transitions.
func (sp *StateProcessor) SetCandidate(candidate types.Candidate) error {
	return sp.manager().PutCandidate(candidate)
}

// Transfer moves amount of the native asset from sender to dest.
//
// Zero-amount and self transfers succeed without touching state. The sender
// must exist; the destination is created lazily at zero balance. Both balance
// updates are computed with checked arithmetic before either is written, so a
// partial debit is never observable.
func (sp *StateProcessor) Transfer(sender, dest []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || bytes.Equal(sender, dest) {
		return nil
	}
	if !types.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	m := sp.manager()
	ok, err := m.HasAccount(sender)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSenderNotFound
	}
	senderAccount, err := m.GetAccount(sender)
	if err != nil {
		return err
	}
	destAccount, err := m.GetAccount(dest)
	if err != nil {
		return err
	}

	newSenderBalance, err := types.CheckedSub(senderAccount.Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: balance %s, amount %s", ErrInsufficientBalance, senderAccount.Balance, amount)
	}
	newDestBalance, err := types.CheckedAdd(destAccount.Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: destination balance %s, amount %s", ErrBalanceOverflow, destAccount.Balance, amount)
	}

	senderAccount.Balance = newSenderBalance
	destAccount.Balance = newDestBalance
	if err := m.PutAccount(sender, senderAccount); err != nil {
		return err
	}
	return m.PutAccount(dest, destAccount)
}

// TransferAsset moves amount of a secondary asset between accounts under the
// same rules as Transfer.
func (sp *StateProcessor) TransferAsset(sender, dest []byte, asset string, amount *big.Int) error {
	if asset == "" {
		return fmt.Errorf("asset type must not be empty")
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || bytes.Equal(sender, dest) {
		return nil
	}
	if !types.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	m := sp.manager()
	ok, err := m.HasAccount(sender)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSenderNotFound
	}
	senderAccount, err := m.GetAccount(sender)
	if err != nil {
		return err
	}
	destAccount, err := m.GetAccount(dest)
	if err != nil {
		return err
	}

	newSenderBalance, err := types.CheckedSub(senderAccount.AssetBalance(asset), amount)
	if err != nil {
		return fmt.Errorf("%w: asset %s", ErrInsufficientBalance, asset)
	}
	newDestBalance, err := types.CheckedAdd(destAccount.AssetBalance(asset), amount)
	if err != nil {
		return fmt.Errorf("%w: asset %s", ErrBalanceOverflow, asset)
	}

	senderAccount.SetAssetBalance(asset, newSenderBalance)
	destAccount.SetAssetBalance(asset, newDestBalance)
	if err := m.PutAccount(sender, senderAccount); err != nil {
		return err
	}
	return m.PutAccount(dest, destAccount)
}

// ApplyTransaction validates and applies one native transaction.
//
// Admission failures (bad signature, wrong chain, nonce mismatch) consume
// nothing. Once a transaction reaches execution its nonce is consumed exactly
// once, whether or not the payload succeeds; a failed payload's state effects
// are rolled back while the nonce increment is kept.
func (sp *StateProcessor) ApplyTransaction(tx *types.Transaction) error {
	sender, err := tx.From()
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}
	if tx.ChainID != sp.chainID {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongChain, tx.ChainID, sp.chainID)
	}
	m := sp.manager()
	account, err := m.GetAccount(sender)
	if err != nil {
		return err
	}
	if tx.Nonce != account.Nonce {
		return fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, tx.Nonce, account.Nonce)
	}

	account.Nonce++
	if err := m.PutAccount(sender, account); err != nil {
		return err
	}

	// Payload effects are applied on the live trie; the snapshot taken after
	// the nonce increment is restored when the payload fails so replay
	// protection survives failed transactions.
	snapshot := sp.Trie.Copy()

	var payloadErr error
	switch tx.Type {
	case types.TxTypeTransfer:
		payloadErr = sp.Transfer(sender, tx.To, tx.Value)
	case types.TxTypeTransferAsset:
		payloadErr = sp.TransferAsset(sender, tx.To, tx.Asset, tx.Value)
	case types.TxTypeStake:
		payloadErr = sp.applyStake(sender, tx)
	case types.TxTypeUnstake:
		payloadErr = sp.applyUnstake(sender, tx)
	default:
		payloadErr = fmt.Errorf("unknown native transaction type: %d", tx.Type)
	}
	if payloadErr != nil {
		sp.Trie = snapshot
		return payloadErr
	}
	return nil
}

// applyStake locks part of the spendable balance into the reserved deposit
// and upserts the sender's staking candidacy. The transaction data carries
// the consensus public key on first registration.
func (sp *StateProcessor) applyStake(sender []byte, tx *types.Transaction) error {
	amount := tx.Value
	if amount == nil || amount.Sign() <= 0 || !types.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	m := sp.manager()
	account, err := m.GetAccount(sender)
	if err != nil {
		return err
	}
	newBalance, err := types.CheckedSub(account.Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: balance %s, stake %s", ErrInsufficientBalance, account.Balance, amount)
	}
	newReserved, err := types.CheckedAdd(account.Reserved, amount)
	if err != nil {
		return fmt.Errorf("%w: reserved %s, stake %s", ErrBalanceOverflow, account.Reserved, amount)
	}
	account.Balance = newBalance
	account.Reserved = newReserved
	if err := m.PutAccount(sender, account); err != nil {
		return err
	}

	pubKey := tx.Data
	if len(pubKey) == 0 {
		if existing, ok, err := m.GetCandidate(sender); err != nil {
			return err
		} else if ok {
			pubKey = existing.PubKey
		}
	}
	return m.PutCandidate(types.Candidate{
		Address: append([]byte(nil), sender...),
		Power:   VotingPower(account.Reserved),
		PubKey:  pubKey,
	})
}

// applyUnstake releases part of the reserved deposit back into the spendable
// balance. A candidate whose deposit drops to zero leaves the table.
func (sp *StateProcessor) applyUnstake(sender []byte, tx *types.Transaction) error {
	amount := tx.Value
	if amount == nil || amount.Sign() <= 0 || !types.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	m := sp.manager()
	account, err := m.GetAccount(sender)
	if err != nil {
		return err
	}
	newReserved, err := types.CheckedSub(account.Reserved, amount)
	if err != nil {
		return fmt.Errorf("%w: reserved %s, unstake %s", ErrInsufficientReserved, account.Reserved, amount)
	}
	newBalance, err := types.CheckedAdd(account.Balance, amount)
	if err != nil {
		return fmt.Errorf("%w: balance %s, unstake %s", ErrBalanceOverflow, account.Balance, amount)
	}
	account.Reserved = newReserved
	account.Balance = newBalance
	if err := m.PutAccount(sender, account); err != nil {
		return err
	}

	if account.Reserved.Sign() == 0 {
		return m.RemoveCandidate(sender)
	}
	existing, ok, err := m.GetCandidate(sender)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	existing.Power = VotingPower(account.Reserved)
	return m.PutCandidate(existing)
}

// CheckAdmission performs the cheap validity checks used for mempool
// admission: signature recovery, chain id, nonce continuity and affordability
// of value plus the fee upper bound. It never mutates state.
func (sp *StateProcessor) CheckAdmission(tx *types.Transaction) error {
	sender, err := tx.From()
	if err != nil {
		return fmt.Errorf("recover sender: %w", err)
	}
	if tx.ChainID != sp.chainID {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongChain, tx.ChainID, sp.chainID)
	}
	account, err := sp.GetAccount(sender)
	if err != nil {
		return err
	}
	if tx.Nonce != account.Nonce {
		return fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, tx.Nonce, account.Nonce)
	}

	required := big.NewInt(0)
	if tx.Value != nil {
		if tx.Value.Sign() < 0 || !types.ValidAmount(tx.Value) {
			return ErrInvalidAmount
		}
		required = new(big.Int).Set(tx.Value)
	}
	if tx.GasPrice != nil {
		fee := new(big.Int).Mul(new(big.Int).SetUint64(tx.GasLimit), tx.GasPrice)
		required.Add(required, fee)
	}
	if account.Balance.Cmp(required) < 0 {
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientBalance, account.Balance, required)
	}
	return nil
}

// VotingPower derives consensus power from a reserved deposit, saturating at
// the engine's int64 ceiling.
func VotingPower(reserved *big.Int) int64 {
	power := new(big.Int).Div(reserved, PowerReduction)
	if !power.IsInt64() {
		return math.MaxInt64
	}
	return power.Int64()
}
