package genesis_test

import (
	"fmt"
	"math/big"
	"testing"

	"lumenchain/core"
	"lumenchain/core/genesis"
	"lumenchain/crypto"
	"lumenchain/storage"
	"lumenchain/storage/trie"
)

func newProcessor(t *testing.T) *core.StateProcessor {
	t.Helper()
	tr, err := trie.NewTrie(storage.NewMemDB(), nil)
	if err != nil {
		t.Fatalf("open trie: %v", err)
	}
	return core.NewStateProcessor(tr, 1)
}

func newAddress(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address()
}

func TestParseRejectsBadAddress(t *testing.T) {
	_, err := genesis.Parse([]byte(`{"chainId":1,"alloc":[{"address":"not-bech32","balance":"10"}]}`))
	if err == nil {
		t.Fatalf("expected error for malformed address")
	}
}

func TestParseRejectsBadAmount(t *testing.T) {
	addr := newAddress(t)
	doc := fmt.Sprintf(`{"chainId":1,"alloc":[{"address":%q,"balance":"-5"}]}`, addr.String())
	if _, err := genesis.Parse([]byte(doc)); err == nil {
		t.Fatalf("expected error for negative amount")
	}
}

func TestApplySeedsAccountsAndCandidates(t *testing.T) {
	holder := newAddress(t)
	validator := newAddress(t)
	doc := fmt.Sprintf(`{
		"chainId": 1,
		"alloc": [{"address": %q, "balance": "1000"}],
		"validators": [{"address": %q, "pubKey": "qg==", "stake": "5000000"}]
	}`, holder.String(), validator.String())

	parsed, err := genesis.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	sp := newProcessor(t)
	if err := genesis.Apply(sp, parsed); err != nil {
		t.Fatalf("apply: %v", err)
	}

	account, err := sp.GetAccount(holder.Bytes())
	if err != nil {
		t.Fatalf("get holder: %v", err)
	}
	if account.Balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("holder balance = %s, want 1000", account.Balance)
	}

	staked, err := sp.GetAccount(validator.Bytes())
	if err != nil {
		t.Fatalf("get validator: %v", err)
	}
	if staked.Reserved.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("validator reserved = %s, want 5000000", staked.Reserved)
	}

	candidates, err := sp.Candidates()
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Power != 5 {
		t.Fatalf("candidate power = %d, want 5", candidates[0].Power)
	}
}
