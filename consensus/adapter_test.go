package consensus

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	abcitypes "github.com/tendermint/tendermint/abci/types"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"

	"lumenchain/consensus/heights"
	"lumenchain/core/types"
	"lumenchain/crypto"
	"lumenchain/storage"
)

const testChainID = 7

func newTestAdapter(t *testing.T, db storage.Database, ledgerDir string) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(db, testChainID, heights.New(ledgerDir), nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func signedTransfer(t *testing.T, key *crypto.PrivateKey, nonce uint64, to []byte, amount int64) []byte {
	t.Helper()
	tx := &types.Transaction{
		ChainID: testChainID,
		Type:    types.TxTypeTransfer,
		Nonce:   nonce,
		To:      to,
		Value:   big.NewInt(amount),
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	encoded, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return encoded
}

func initChainWithBalance(t *testing.T, adapter *Adapter, addr crypto.Address, balance string) {
	t.Helper()
	appState := fmt.Sprintf(`{"chainId":%d,"alloc":[{"address":%q,"balance":%q}]}`,
		testChainID, addr.String(), balance)
	adapter.InitChain(abcitypes.RequestInitChain{
		ChainId:       "lumen-test",
		AppStateBytes: []byte(appState),
	})
}

func runBlock(adapter *Adapter, height int64, txs ...[]byte) abcitypes.ResponseCommit {
	adapter.BeginBlock(abcitypes.RequestBeginBlock{
		Header: tmproto.Header{Height: height, Time: time.Unix(1_700_000_000, 0)},
	})
	for _, tx := range txs {
		adapter.DeliverTx(abcitypes.RequestDeliverTx{Tx: tx})
	}
	adapter.EndBlock(abcitypes.RequestEndBlock{Height: height})
	return adapter.Commit()
}

func TestRestartReportsCommittedHeight(t *testing.T) {
	db := storage.NewMemDB()
	ledgerDir := t.TempDir()

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := key.PubKey().Address()
	dest := make([]byte, 20)
	dest[0] = 0xD1

	adapter := newTestAdapter(t, db, ledgerDir)
	initChainWithBalance(t, adapter, sender, "1000")
	commit := runBlock(adapter, 1, signedTransfer(t, key, 0, dest, 40))
	if len(commit.Data) == 0 {
		t.Fatalf("commit returned empty app hash")
	}

	// A fresh adapter over the same database and ledger models a restart.
	restarted := newTestAdapter(t, db, ledgerDir)
	info := restarted.Info(abcitypes.RequestInfo{})
	if info.LastBlockHeight != 1 {
		t.Fatalf("restarted height = %d, want 1", info.LastBlockHeight)
	}
	if string(info.LastBlockAppHash) != string(commit.Data) {
		t.Fatalf("restarted app hash %x, want %x", info.LastBlockAppHash, commit.Data)
	}

	account, err := restarted.State().GetAccount(dest)
	if err != nil {
		t.Fatalf("get dest account: %v", err)
	}
	if account.Balance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("dest balance after restart = %s, want 40", account.Balance)
	}
}

func TestInfoOnFreshNode(t *testing.T) {
	adapter := newTestAdapter(t, storage.NewMemDB(), t.TempDir())
	info := adapter.Info(abcitypes.RequestInfo{})
	if info.LastBlockHeight != 0 {
		t.Fatalf("fresh node height = %d, want 0", info.LastBlockHeight)
	}
	if len(info.LastBlockAppHash) != 0 {
		t.Fatalf("fresh node app hash = %x, want empty", info.LastBlockAppHash)
	}
}

func TestCheckTxOverlayNeverTouchesState(t *testing.T) {
	db := storage.NewMemDB()
	adapter := newTestAdapter(t, db, t.TempDir())

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := key.PubKey().Address()
	initChainWithBalance(t, adapter, sender, "1000")
	runBlock(adapter, 1)

	dest := make([]byte, 20)
	dest[0] = 0xD2

	resp := adapter.CheckTx(abcitypes.RequestCheckTx{Tx: signedTransfer(t, key, 0, dest, 10)})
	if resp.Code != abcitypes.CodeTypeOK {
		t.Fatalf("check tx rejected: %d %s", resp.Code, resp.Log)
	}

	// The overlay bumped the sender nonce, so the chained submission admits.
	resp = adapter.CheckTx(abcitypes.RequestCheckTx{Tx: signedTransfer(t, key, 1, dest, 10)})
	if resp.Code != abcitypes.CodeTypeOK {
		t.Fatalf("chained check tx rejected: %d %s", resp.Code, resp.Log)
	}

	// Canonical state is untouched: the same nonce-0 transfer still delivers.
	account, err := adapter.State().GetAccount(sender.Bytes())
	if err != nil {
		t.Fatalf("get sender: %v", err)
	}
	if account.Nonce != 0 {
		t.Fatalf("canonical nonce = %d, want 0", account.Nonce)
	}
	runBlock(adapter, 2, signedTransfer(t, key, 0, dest, 10))
	destAccount, err := adapter.State().GetAccount(dest)
	if err != nil {
		t.Fatalf("get dest: %v", err)
	}
	if destAccount.Balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("dest balance = %s, want 10", destAccount.Balance)
	}
}

func TestCheckTxIgnoresOpenBlockFunds(t *testing.T) {
	adapter := newTestAdapter(t, storage.NewMemDB(), t.TempDir())

	funderKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate funder key: %v", err)
	}
	recipientKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate recipient key: %v", err)
	}
	recipient := recipientKey.PubKey().Address()
	initChainWithBalance(t, adapter, funderKey.PubKey().Address(), "1000")
	runBlock(adapter, 1)

	// Credit the recipient inside an open block, without committing.
	adapter.BeginBlock(abcitypes.RequestBeginBlock{
		Header: tmproto.Header{Height: 2, Time: time.Unix(1_700_000_000, 0)},
	})
	deliver := adapter.DeliverTx(abcitypes.RequestDeliverTx{
		Tx: signedTransfer(t, funderKey, 0, recipient.Bytes(), 200),
	})
	if deliver.Code != abcitypes.CodeTypeOK {
		t.Fatalf("funding transfer failed: %d %s", deliver.Code, deliver.Log)
	}

	// The recipient's funds exist only in the block in flight; admission runs
	// against the committed snapshot and must reject the spend.
	other := make([]byte, 20)
	other[0] = 0xD4
	spend := signedTransfer(t, recipientKey, 0, other, 50)
	if resp := adapter.CheckTx(abcitypes.RequestCheckTx{Tx: spend}); resp.Code == abcitypes.CodeTypeOK {
		t.Fatalf("spend of uncommitted funds admitted")
	}

	adapter.EndBlock(abcitypes.RequestEndBlock{Height: 2})
	adapter.Commit()

	// Once the block commits, the same spend admits.
	if resp := adapter.CheckTx(abcitypes.RequestCheckTx{Tx: spend}); resp.Code != abcitypes.CodeTypeOK {
		t.Fatalf("spend of committed funds rejected: %d %s", resp.Code, resp.Log)
	}
}

func TestCheckTxDuringCommitDoesNotDeadlock(t *testing.T) {
	adapter := newTestAdapter(t, storage.NewMemDB(), t.TempDir())

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	initChainWithBalance(t, adapter, key.PubKey().Address(), "100000")

	dest := make([]byte, 20)
	dest[0] = 0xD5
	encoded := make([][]byte, 8)
	for i := range encoded {
		encoded[i] = signedTransfer(t, key, uint64(i), dest, 1)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			adapter.CheckTx(abcitypes.RequestCheckTx{Tx: encoded[i%len(encoded)]})
		}
	}()

	for height := int64(1); height <= 25; height++ {
		runBlock(adapter, height)
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mempool admission wedged against commit")
	}
}

func TestCheckTxRejectsWrongChain(t *testing.T) {
	adapter := newTestAdapter(t, storage.NewMemDB(), t.TempDir())

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := &types.Transaction{
		ChainID: testChainID + 1,
		Type:    types.TxTypeTransfer,
		Nonce:   0,
		To:      make([]byte, 20),
		Value:   big.NewInt(1),
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	encoded, _ := json.Marshal(tx)
	resp := adapter.CheckTx(abcitypes.RequestCheckTx{Tx: encoded})
	if resp.Code == abcitypes.CodeTypeOK {
		t.Fatalf("wrong-chain transaction admitted")
	}
}

func TestDeliverTxFailureDoesNotHaltBlock(t *testing.T) {
	db := storage.NewMemDB()
	adapter := newTestAdapter(t, db, t.TempDir())

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := key.PubKey().Address()
	initChainWithBalance(t, adapter, sender, "100")

	dest := make([]byte, 20)
	dest[0] = 0xD3

	adapter.BeginBlock(abcitypes.RequestBeginBlock{
		Header: tmproto.Header{Height: 1, Time: time.Unix(1_700_000_000, 0)},
	})
	overdraft := adapter.DeliverTx(abcitypes.RequestDeliverTx{
		Tx: signedTransfer(t, key, 0, dest, 500),
	})
	if overdraft.Code == abcitypes.CodeTypeOK {
		t.Fatalf("overdraft transfer delivered")
	}
	// The failed payload consumed the nonce, so the next attempt uses nonce 1.
	ok := adapter.DeliverTx(abcitypes.RequestDeliverTx{
		Tx: signedTransfer(t, key, 1, dest, 30),
	})
	if ok.Code != abcitypes.CodeTypeOK {
		t.Fatalf("follow-up transfer failed: %d %s", ok.Code, ok.Log)
	}
	adapter.EndBlock(abcitypes.RequestEndBlock{Height: 1})
	adapter.Commit()

	destAccount, err := adapter.State().GetAccount(dest)
	if err != nil {
		t.Fatalf("get dest: %v", err)
	}
	if destAccount.Balance.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("dest balance = %s, want 30", destAccount.Balance)
	}
}

func TestEndBlockReturnsStakingValidators(t *testing.T) {
	db := storage.NewMemDB()
	adapter := newTestAdapter(t, db, t.TempDir())

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	validator := key.PubKey().Address()
	appState := fmt.Sprintf(`{
		"chainId": %d,
		"validators": [{"address": %q, "pubKey": "qrvM3Q==", "stake": "3000000"}]
	}`, testChainID, validator.String())
	resp := adapter.InitChain(abcitypes.RequestInitChain{AppStateBytes: []byte(appState)})
	if len(resp.Validators) != 1 {
		t.Fatalf("init chain validators = %d, want 1", len(resp.Validators))
	}

	adapter.BeginBlock(abcitypes.RequestBeginBlock{
		Header: tmproto.Header{Height: 1, Time: time.Unix(1_700_000_000, 0)},
	})
	end := adapter.EndBlock(abcitypes.RequestEndBlock{Height: 1})
	if len(end.ValidatorUpdates) != 1 {
		t.Fatalf("end block validators = %d, want 1", len(end.ValidatorUpdates))
	}
	if end.ValidatorUpdates[0].Power != 3 {
		t.Fatalf("validator power = %d, want 3", end.ValidatorUpdates[0].Power)
	}
}

func TestQueryAccount(t *testing.T) {
	adapter := newTestAdapter(t, storage.NewMemDB(), t.TempDir())

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	holder := key.PubKey().Address()
	initChainWithBalance(t, adapter, holder, "555")
	runBlock(adapter, 1)

	resp := adapter.Query(abcitypes.RequestQuery{Path: "account", Data: []byte(holder.String())})
	if resp.Code != abcitypes.CodeTypeOK {
		t.Fatalf("query failed: %d %s", resp.Code, resp.Log)
	}
	var account types.Account
	if err := json.Unmarshal(resp.Value, &account); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if account.Balance.Cmp(big.NewInt(555)) != 0 {
		t.Fatalf("queried balance = %s, want 555", account.Balance)
	}
}
