package store

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"lumenchain/storage"
)

// Store persists the consensus-facing application metadata: the committed
// app-state record and the genesis validator set. Records live as flat RLP
// blobs in the raw database, outside the versioned trie, so they are readable
// before any trie is opened.
type Store struct {
	db storage.Database
}

// New creates a consensus store backed by the provided database.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

var (
	appStateKey     = []byte("consensus/appstate")
	validatorSetKey = []byte("consensus/validatorset")
)

// ErrNoState is returned when no app-state record has been committed yet.
var ErrNoState = errors.New("consensus store: no committed state")

// AppState anchors the versioned state: the last committed block height and
// the trie root it produced. Written at every Commit, read once at startup to
// reopen the trie where the previous process left off.
type AppState struct {
	Height uint64
	Root   []byte
}

// SaveState persists the committed height/root pair.
func (s *Store) SaveState(state AppState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("consensus store uninitialised")
	}
	encoded, err := rlp.EncodeToBytes(&state)
	if err != nil {
		return fmt.Errorf("encode app state: %w", err)
	}
	return s.db.Put(appStateKey, encoded)
}

// LoadState returns the last committed app-state record.
func (s *Store) LoadState() (AppState, error) {
	if s == nil || s.db == nil {
		return AppState{}, fmt.Errorf("consensus store uninitialised")
	}
	ok, err := s.db.Has(appStateKey)
	if err != nil {
		return AppState{}, err
	}
	if !ok {
		return AppState{}, ErrNoState
	}
	encoded, err := s.db.Get(appStateKey)
	if err != nil {
		return AppState{}, err
	}
	var state AppState
	if err := rlp.DecodeBytes(encoded, &state); err != nil {
		return AppState{}, fmt.Errorf("decode app state: %w", err)
	}
	return state, nil
}

// Validator captures the minimal information required by consensus for a
// validator at genesis.
type Validator struct {
	Address []byte
	PubKey  []byte
	Power   uint64
	Moniker string
}

// SaveValidators persists the provided validator list. The caller must ensure
// deterministic ordering of the slice.
func (s *Store) SaveValidators(validators []Validator) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("consensus store uninitialised")
	}
	encoded, err := rlp.EncodeToBytes(validators)
	if err != nil {
		return err
	}
	return s.db.Put(validatorSetKey, encoded)
}

// LoadValidators returns the persisted genesis validator list, or an empty
// slice when none was recorded.
func (s *Store) LoadValidators() ([]Validator, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("consensus store uninitialised")
	}
	ok, err := s.db.Has(validatorSetKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	encoded, err := s.db.Get(validatorSetKey)
	if err != nil {
		return nil, err
	}
	var validators []Validator
	if err := rlp.DecodeBytes(encoded, &validators); err != nil {
		return nil, err
	}
	return validators, nil
}
