package state

import (
	"lumenchain/storage/trie"
)

// Manager provides typed access to the ledger records stored in the state
// trie. It is a thin, stateless view: constructing one per use is cheap and
// the zero-allocation pattern used by callers that already hold a trie.
type Manager struct {
	trie *trie.Trie
}

// NewManager wraps the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}
