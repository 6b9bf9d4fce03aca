package state

import (
	"math/big"
	"testing"

	"lumenchain/core/types"
	"lumenchain/storage"
	"lumenchain/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	tr, err := trie.NewTrie(storage.NewMemDB(), nil)
	if err != nil {
		t.Fatalf("open trie: %v", err)
	}
	return NewManager(tr)
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager(t)
	addr := bytesOfLen(20, 0xA1)

	account := &types.Account{
		Nonce:    7,
		Balance:  big.NewInt(12_345),
		Reserved: big.NewInt(500),
	}
	account.SetAssetBalance("sLUM", big.NewInt(42))

	if err := m.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}

	loaded, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded.Nonce != 7 {
		t.Fatalf("expected nonce 7, got %d", loaded.Nonce)
	}
	if loaded.Balance.Cmp(big.NewInt(12_345)) != 0 {
		t.Fatalf("expected balance 12345, got %s", loaded.Balance)
	}
	if loaded.Reserved.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected reserved 500, got %s", loaded.Reserved)
	}
	if got := loaded.AssetBalance("sLUM"); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected sLUM balance 42, got %s", got)
	}
}

func TestGetAccountMissingReturnsZeroState(t *testing.T) {
	m := newTestManager(t)
	addr := bytesOfLen(20, 0xB2)

	ok, err := m.HasAccount(addr)
	if err != nil {
		t.Fatalf("has account: %v", err)
	}
	if ok {
		t.Fatalf("expected account to be absent")
	}

	account, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Nonce != 0 || account.Balance.Sign() != 0 || account.Reserved.Sign() != 0 {
		t.Fatalf("expected zero state, got %+v", account)
	}
}

func TestCandidateIndexDeterministicOrder(t *testing.T) {
	m := newTestManager(t)

	addrs := [][]byte{bytesOfLen(20, 0x03), bytesOfLen(20, 0x01), bytesOfLen(20, 0x02)}
	for i, addr := range addrs {
		candidate := types.Candidate{Address: addr, Power: int64(10 + i), PubKey: bytesOfLen(32, byte(i+1))}
		if err := m.PutCandidate(candidate); err != nil {
			t.Fatalf("put candidate: %v", err)
		}
	}

	candidates, err := m.Candidates()
	if err != nil {
		t.Fatalf("load candidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	for i := 1; i < len(candidates); i++ {
		if string(candidates[i-1].Address) >= string(candidates[i].Address) {
			t.Fatalf("candidates not in ascending address order")
		}
	}

	if err := m.RemoveCandidate(addrs[1]); err != nil {
		t.Fatalf("remove candidate: %v", err)
	}
	candidates, err = m.Candidates()
	if err != nil {
		t.Fatalf("reload candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates after removal, got %d", len(candidates))
	}
}

func bytesOfLen(n int, fill byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = fill
	}
	return out
}
