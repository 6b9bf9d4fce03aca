package storage

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// Database is the opaque versioned key-value store consumed by the rest of the
// node. Raw Put/Get serve flat metadata records (app state, consensus
// bookkeeping); TrieDB exposes the trie database used for versioned account
// state. The store's internal format is not part of the protocol surface.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	kv     ethdb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	kv := rawdb.NewMemoryDatabase()
	return &MemDB{
		kv:     kv,
		trieDB: triedb.NewDatabase(kv, nil),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.kv.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	return db.kv.Get(key)
}

func (db *MemDB) Has(key []byte) (bool, error) {
	return db.kv.Has(key)
}

func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db     *leveldb.DB
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	kv := rawdb.NewDatabase(&levelKV{db: db})
	return &LevelDB{
		db:     db,
		trieDB: triedb.NewDatabase(kv, nil),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return ldb.db.Get(key, nil)
}

// Has reports whether a key exists in the store.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// TrieDB exposes the trie database layered over this store.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
