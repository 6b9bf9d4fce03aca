package consensus

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	abcitypes "github.com/tendermint/tendermint/abci/types"
	"lukechampine.com/blake3"

	"lumenchain/consensus/heights"
	"lumenchain/consensus/store"
	"lumenchain/core"
	"lumenchain/core/genesis"
	"lumenchain/core/types"
	"lumenchain/crypto"
	"lumenchain/evm"
	"lumenchain/native/staking"
	"lumenchain/observability"
	"lumenchain/storage"
	"lumenchain/storage/trie"
)

// Response codes shared between CheckTx and DeliverTx.
const (
	codeOK       = abcitypes.CodeTypeOK
	codeEncoding = 1
	codeRejected = 2
	codeFailed   = 3
	codeVMError  = 4
)

// Adapter bridges the consensus engine's ABCI callbacks onto the state
// transition core. Block callbacks (BeginBlock/DeliverTx/EndBlock/Commit) run
// strictly sequentially under one mutex; mempool admission (CheckTx) runs on
// a disposable state overlay under its own mutex so it never blocks block
// processing.
//
// Lock order is mu before checkMu, always. CheckTx takes only checkMu: the
// overlay is rebuilt under both locks wherever the committed state advances
// (construction, genesis, Commit), so admission never has to reach for mu.
type Adapter struct {
	abcitypes.BaseApplication

	mu     sync.Mutex
	state  *core.StateProcessor
	keeper *evm.Keeper

	// checkState is always a copy of the last committed state, never of an
	// open block. Accepted transactions bump its nonces in place.
	checkMu    sync.Mutex
	checkState *core.StateProcessor

	store   *store.Store
	heights *heights.Ledger
	metrics *observability.NodeMetrics
	logger  *slog.Logger

	blockHeight uint64
	blockTime   uint64
}

// NewAdapter opens the application over the provided database. When a
// committed app-state record exists the trie is reopened at its root, so a
// restarted node resumes exactly where the previous process durably stopped.
func NewAdapter(db storage.Database, chainID uint64, ledger *heights.Ledger, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := store.New(db)

	var root []byte
	appState, err := st.LoadState()
	switch {
	case err == nil:
		root = appState.Root
	case errors.Is(err, store.ErrNoState):
	default:
		return nil, fmt.Errorf("load app state: %w", err)
	}

	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	sp := core.NewStateProcessor(tr, chainID)
	keeper := evm.NewKeeper(sp, nil, nil, gethvm.Config{}, logger)

	if ledgerHeight, err := ledger.Read(); err == nil && ledgerHeight != appState.Height {
		// The ledger is written after the app-state record; a mismatch
		// means the previous process died between the two writes. The
		// ledger stays authoritative for Info, so consensus replays the
		// torn block.
		logger.Warn("height ledger behind app state",
			"ledger_height", ledgerHeight, "app_height", appState.Height)
	}

	return &Adapter{
		state:      sp,
		keeper:     keeper,
		checkState: sp.Copy(),
		store:      st,
		heights:    ledger,
		metrics:    observability.Node(),
		logger:     logger,
	}, nil
}

// State exposes the canonical state processor for read-only collaborators.
func (a *Adapter) State() *core.StateProcessor {
	return a.state
}

// Info reports the last durably committed height and its recomputable app
// hash. The consensus engine replays every block after this height.
func (a *Adapter) Info(abcitypes.RequestInfo) abcitypes.ResponseInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	height, err := a.heights.Read()
	if err != nil {
		if !errors.Is(err, heights.ErrNotRecorded) {
			a.logger.Error("height ledger unreadable", "err", err)
		}
		return abcitypes.ResponseInfo{Data: "lumen", AppVersion: 1}
	}
	return abcitypes.ResponseInfo{
		Data:             "lumen",
		AppVersion:       1,
		LastBlockHeight:  int64(height),
		LastBlockAppHash: appHash(a.state.CurrentRoot(), height),
	}
}

// InitChain seeds genesis accounts and candidates from the engine's app_state
// blob. The resulting candidate table determines the initial validator set.
func (a *Adapter) InitChain(req abcitypes.RequestInitChain) abcitypes.ResponseInitChain {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(req.AppStateBytes) > 0 {
		doc, err := genesis.Parse(req.AppStateBytes)
		if err != nil {
			a.logger.Error("invalid genesis app state", "err", err)
			panic(fmt.Sprintf("init chain: %v", err))
		}
		if err := genesis.Apply(a.state, doc); err != nil {
			a.logger.Error("genesis application failed", "err", err)
			panic(fmt.Sprintf("init chain: %v", err))
		}
	}

	genesisValidators := make([]store.Validator, 0, len(req.Validators))
	for _, v := range req.Validators {
		genesisValidators = append(genesisValidators, store.Validator{
			PubKey: v.PubKey.GetEd25519(),
			Power:  uint64(v.Power),
		})
	}
	if err := a.store.SaveValidators(genesisValidators); err != nil {
		a.logger.Error("persist genesis validators", "err", err)
	}

	candidates, err := a.state.Candidates()
	if err != nil {
		panic(fmt.Sprintf("init chain: candidates: %v", err))
	}
	a.refreshCheckState()
	updates := validatorUpdates(staking.Validators(candidates))
	a.logger.Info("chain initialised",
		"chain_id", req.ChainId, "validators", len(updates))
	return abcitypes.ResponseInitChain{Validators: updates}
}

// CheckTx performs mempool admission on a disposable overlay of the last
// committed state. Accepted transactions bump the overlay nonce so chained
// submissions from one sender admit in order. Mutations of the block in
// flight are invisible here; they only reach the overlay once committed.
func (a *Adapter) CheckTx(req abcitypes.RequestCheckTx) abcitypes.ResponseCheckTx {
	a.checkMu.Lock()
	defer a.checkMu.Unlock()

	tx, err := decodeTx(req.Tx)
	if err != nil {
		a.metrics.TxsChecked.WithLabelValues("malformed").Inc()
		return abcitypes.ResponseCheckTx{Code: codeEncoding, Log: err.Error()}
	}
	if err := a.checkState.CheckAdmission(tx); err != nil {
		a.metrics.TxsChecked.WithLabelValues("rejected").Inc()
		return abcitypes.ResponseCheckTx{Code: codeRejected, Log: err.Error()}
	}

	sender, err := tx.From()
	if err != nil {
		a.metrics.TxsChecked.WithLabelValues("rejected").Inc()
		return abcitypes.ResponseCheckTx{Code: codeRejected, Log: err.Error()}
	}
	account, err := a.checkState.GetAccount(sender)
	if err == nil {
		account.Nonce++
		if err := a.checkState.SetAccount(sender, account); err != nil {
			a.logger.Warn("overlay nonce bump failed", "err", err)
		}
	}

	a.metrics.TxsChecked.WithLabelValues("ok").Inc()
	return abcitypes.ResponseCheckTx{Code: codeOK, GasWanted: int64(tx.GasLimit)}
}

// BeginBlock pins the block context used by every transaction in the block.
func (a *Adapter) BeginBlock(req abcitypes.RequestBeginBlock) abcitypes.ResponseBeginBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.blockHeight = uint64(req.Header.Height)
	a.blockTime = uint64(req.Header.Time.Unix())
	a.keeper.SetBlockContext(a.blockHeight, a.blockTime)
	return abcitypes.ResponseBeginBlock{}
}

// DeliverTx applies one transaction to the pending block state. Failures
// return a non-zero code and block processing continues with the next
// transaction.
func (a *Adapter) DeliverTx(req abcitypes.RequestDeliverTx) abcitypes.ResponseDeliverTx {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := decodeTx(req.Tx)
	if err != nil {
		a.metrics.TxsDelivered.WithLabelValues("malformed").Inc()
		return abcitypes.ResponseDeliverTx{Code: codeEncoding, Log: err.Error()}
	}

	switch tx.Type {
	case types.TxTypeTransfer, types.TxTypeTransferAsset, types.TxTypeStake, types.TxTypeUnstake:
		if err := a.state.ApplyTransaction(tx); err != nil {
			a.metrics.TxsDelivered.WithLabelValues("failed").Inc()
			return abcitypes.ResponseDeliverTx{Code: codeFailed, Log: err.Error()}
		}
		a.metrics.TxsDelivered.WithLabelValues("ok").Inc()
		return abcitypes.ResponseDeliverTx{Code: codeOK}
	case types.TxTypeInvokeContract, types.TxTypeDeployContract, types.TxTypeDeployContract2:
		return a.deliverEvmTx(tx)
	default:
		a.metrics.TxsDelivered.WithLabelValues("failed").Inc()
		return abcitypes.ResponseDeliverTx{
			Code: codeFailed,
			Log:  fmt.Sprintf("unknown transaction type %d", tx.Type),
		}
	}
}

func (a *Adapter) deliverEvmTx(tx *types.Transaction) abcitypes.ResponseDeliverTx {
	sender, err := tx.From()
	if err != nil {
		a.metrics.TxsDelivered.WithLabelValues("failed").Inc()
		return abcitypes.ResponseDeliverTx{Code: codeRejected, Log: fmt.Sprintf("recover sender: %v", err)}
	}
	if tx.ChainID != a.state.ChainID() {
		a.metrics.TxsDelivered.WithLabelValues("failed").Inc()
		return abcitypes.ResponseDeliverTx{
			Code: codeRejected,
			Log:  fmt.Sprintf("wrong chain id %d", tx.ChainID),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nonce := tx.Nonce
	var (
		data    []byte
		usedGas uint64
		vmError string
	)
	switch tx.Type {
	case types.TxTypeInvokeContract:
		info, err := a.keeper.Call(ctx, evm.CallParams{
			From:     sender,
			To:       tx.To,
			Data:     tx.Data,
			Value:    tx.Value,
			GasLimit: tx.GasLimit,
			GasPrice: tx.GasPrice,
			Nonce:    &nonce,
		})
		if err != nil {
			a.metrics.TxsDelivered.WithLabelValues("failed").Inc()
			return abcitypes.ResponseDeliverTx{Code: codeFailed, Log: err.Error()}
		}
		data, usedGas, vmError = info.Ret, info.UsedGas, info.VMError
	default:
		params := evm.CreateParams{
			From:     sender,
			Code:     tx.Data,
			Value:    tx.Value,
			GasLimit: tx.GasLimit,
			GasPrice: tx.GasPrice,
			Nonce:    &nonce,
		}
		var info *evm.CreateInfo
		if tx.Type == types.TxTypeDeployContract2 {
			copy(params.Salt[:], tx.Salt)
			info, err = a.keeper.Create2(ctx, params)
		} else {
			info, err = a.keeper.Create(ctx, params)
		}
		if err != nil {
			a.metrics.TxsDelivered.WithLabelValues("failed").Inc()
			return abcitypes.ResponseDeliverTx{Code: codeFailed, Log: err.Error()}
		}
		data, usedGas, vmError = info.ContractAddress, info.UsedGas, info.VMError
	}

	if vmError != "" {
		a.metrics.TxsDelivered.WithLabelValues("reverted").Inc()
		return abcitypes.ResponseDeliverTx{
			Code:    codeVMError,
			Log:     vmError,
			GasUsed: int64(usedGas),
		}
	}
	a.metrics.TxsDelivered.WithLabelValues("ok").Inc()
	return abcitypes.ResponseDeliverTx{
		Code:    codeOK,
		Data:    data,
		GasUsed: int64(usedGas),
	}
}

// EndBlock recomputes the bounded validator set from the staking candidate
// table.
func (a *Adapter) EndBlock(abcitypes.RequestEndBlock) abcitypes.ResponseEndBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidates, err := a.state.Candidates()
	if err != nil {
		a.logger.Error("candidate table unreadable", "err", err)
		return abcitypes.ResponseEndBlock{}
	}
	return abcitypes.ResponseEndBlock{
		ValidatorUpdates: validatorUpdates(staking.Validators(candidates)),
	}
}

// Commit makes the block durable: trie commit, app-state record, then the
// height ledger. The ledger write is the recovery barrier; if it fails the
// node must halt rather than acknowledge a height it cannot prove after a
// restart.
func (a *Adapter) Commit() abcitypes.ResponseCommit {
	a.mu.Lock()
	defer a.mu.Unlock()

	started := time.Now()
	root, err := a.state.Commit(a.blockHeight)
	if err != nil {
		panic(fmt.Sprintf("commit height %d: trie: %v", a.blockHeight, err))
	}
	err = a.store.SaveState(store.AppState{Height: a.blockHeight, Root: root.Bytes()})
	if err != nil {
		panic(fmt.Sprintf("commit height %d: app state: %v", a.blockHeight, err))
	}
	if err := a.heights.Write(a.blockHeight); err != nil {
		panic(fmt.Sprintf("commit height %d: height ledger: %v", a.blockHeight, err))
	}

	a.refreshCheckState()

	a.metrics.BlocksCommitted.Inc()
	a.metrics.CommittedHeight.Set(float64(a.blockHeight))
	a.metrics.CommitLatency.Observe(time.Since(started).Seconds())
	a.logger.Info("block committed", "height", a.blockHeight, "root", root.Hex())
	return abcitypes.ResponseCommit{Data: appHash(root, a.blockHeight)}
}

// Query serves read-only state lookups: account records by bech32 address and
// the current candidate table.
func (a *Adapter) Query(req abcitypes.RequestQuery) abcitypes.ResponseQuery {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch req.Path {
	case "account":
		addr, err := crypto.DecodeAddress(string(req.Data))
		if err != nil {
			return abcitypes.ResponseQuery{Code: codeEncoding, Log: err.Error()}
		}
		account, err := a.state.GetAccount(addr.Bytes())
		if err != nil {
			return abcitypes.ResponseQuery{Code: codeFailed, Log: err.Error()}
		}
		value, err := json.Marshal(account)
		if err != nil {
			return abcitypes.ResponseQuery{Code: codeFailed, Log: err.Error()}
		}
		return abcitypes.ResponseQuery{Code: codeOK, Key: req.Data, Value: value}
	case "candidates":
		candidates, err := a.state.Candidates()
		if err != nil {
			return abcitypes.ResponseQuery{Code: codeFailed, Log: err.Error()}
		}
		value, err := json.Marshal(candidates)
		if err != nil {
			return abcitypes.ResponseQuery{Code: codeFailed, Log: err.Error()}
		}
		return abcitypes.ResponseQuery{Code: codeOK, Value: value}
	default:
		return abcitypes.ResponseQuery{Code: codeEncoding, Log: fmt.Sprintf("unknown query path %q", req.Path)}
	}
}

// refreshCheckState replaces the admission overlay with a fresh copy of the
// canonical state. Callers must hold mu and the canonical state must carry no
// uncommitted block mutations; checkMu is taken here, preserving the mu
// before checkMu lock order.
func (a *Adapter) refreshCheckState() {
	snapshot := a.state.Copy()
	a.checkMu.Lock()
	a.checkState = snapshot
	a.checkMu.Unlock()
}

func decodeTx(raw []byte) (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

func validatorUpdates(set []types.ValidatorUpdate) []abcitypes.ValidatorUpdate {
	updates := make([]abcitypes.ValidatorUpdate, 0, len(set))
	for _, v := range set {
		updates = append(updates, abcitypes.UpdateValidator(v.PubKey.Bytes, v.Power, v.PubKey.Type))
	}
	return updates
}

// appHash binds the committed root to its height so the value Info reports is
// recomputable from the app-state record alone.
func appHash(root common.Hash, height uint64) []byte {
	buf := make([]byte, 0, common.HashLength+8)
	buf = append(buf, root.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, height)
	sum := blake3.Sum256(buf)
	return sum[:]
}
