package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"lumenchain/core/types"
)

// storedCandidate mirrors types.Candidate with an unsigned power so the record
// round-trips through RLP. Power is semantically non-negative.
type storedCandidate struct {
	Address []byte
	Power   uint64
	PubKey  []byte
}

// PutCandidate inserts or updates a staking candidate and maintains the
// address index that makes iteration deterministic.
func (m *Manager) PutCandidate(candidate types.Candidate) error {
	if len(candidate.Address) == 0 {
		return fmt.Errorf("candidate address must not be empty")
	}
	if candidate.Power < 0 {
		return fmt.Errorf("candidate power must not be negative")
	}
	stored := storedCandidate{
		Address: append([]byte(nil), candidate.Address...),
		Power:   uint64(candidate.Power),
		PubKey:  append([]byte(nil), candidate.PubKey...),
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	if err := m.trie.Update(candidateKey(candidate.Address), encoded); err != nil {
		return err
	}
	return m.indexCandidate(candidate.Address, true)
}

// RemoveCandidate drops a candidate from the table and its index.
func (m *Manager) RemoveCandidate(addr []byte) error {
	if err := m.trie.Update(candidateKey(addr), nil); err != nil {
		return err
	}
	return m.indexCandidate(addr, false)
}

// GetCandidate loads a single candidate row. The second return reports
// whether the candidate exists.
func (m *Manager) GetCandidate(addr []byte) (types.Candidate, bool, error) {
	data, err := m.trie.Get(candidateKey(addr))
	if err != nil {
		return types.Candidate{}, false, err
	}
	if len(data) == 0 {
		return types.Candidate{}, false, nil
	}
	var stored storedCandidate
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return types.Candidate{}, false, err
	}
	return types.Candidate{
		Address: stored.Address,
		Power:   int64(stored.Power),
		PubKey:  stored.PubKey,
	}, true, nil
}

// Candidates returns the full candidate table in ascending address order.
func (m *Manager) Candidates() ([]types.Candidate, error) {
	index, err := m.loadCandidateIndex()
	if err != nil {
		return nil, err
	}
	out := make([]types.Candidate, 0, len(index))
	for _, addr := range index {
		candidate, ok, err := m.GetCandidate(addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, candidate)
	}
	return out, nil
}

func (m *Manager) indexCandidate(addr []byte, present bool) error {
	index, err := m.loadCandidateIndex()
	if err != nil {
		return err
	}
	pos := sort.Search(len(index), func(i int) bool {
		return bytes.Compare(index[i], addr) >= 0
	})
	found := pos < len(index) && bytes.Equal(index[pos], addr)
	switch {
	case present && !found:
		index = append(index, nil)
		copy(index[pos+1:], index[pos:])
		index[pos] = append([]byte(nil), addr...)
	case !present && found:
		index = append(index[:pos], index[pos+1:]...)
	default:
		return nil
	}
	encoded, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return m.trie.Update(candidateIndexKey, encoded)
}

func (m *Manager) loadCandidateIndex() ([][]byte, error) {
	data, err := m.trie.Get(candidateIndexKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var index [][]byte
	if err := rlp.DecodeBytes(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}
