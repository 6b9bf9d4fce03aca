package storage

import (
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelKV adapts a goleveldb handle to go-ethereum's key-value store contract
// so the trie database can share the node's single LevelDB instance.
type levelKV struct {
	db *leveldb.DB
}

var _ ethdb.KeyValueStore = (*levelKV)(nil)

func (s *levelKV) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *levelKV) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *levelKV) Put(key []byte, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *levelKV) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *levelKV) DeleteRange(start, end []byte) error {
	iter := s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelKV) Stat() (string, error) {
	return s.db.GetProperty("leveldb.stats")
}

func (s *levelKV) Compact(start []byte, limit []byte) error {
	return s.db.CompactRange(util.Range{Start: start, Limit: limit})
}

func (s *levelKV) SyncKeyValue() error {
	return s.db.Write(new(leveldb.Batch), &opt.WriteOptions{Sync: true})
}

func (s *levelKV) NewBatch() ethdb.Batch {
	return &levelBatch{db: s.db, b: new(leveldb.Batch)}
}

func (s *levelKV) NewBatchWithSize(size int) ethdb.Batch {
	return &levelBatch{db: s.db, b: leveldb.MakeBatch(size)}
}

func (s *levelKV) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	return s.db.NewIterator(bytesPrefixRange(prefix, start), nil)
}

func (s *levelKV) Close() error {
	return s.db.Close()
}

// bytesPrefixRange returns a key range that satisfies both a prefix and a
// start position within that prefix.
func bytesPrefixRange(prefix, start []byte) *util.Range {
	r := util.BytesPrefix(prefix)
	r.Start = append(r.Start, start...)
	return r
}

type levelBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *levelBatch) Put(key []byte, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelBatch) DeleteRange(start, end []byte) error {
	iter := b.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		b.b.Delete(key)
		b.size += len(key)
	}
	return iter.Error()
}

func (b *levelBatch) ValueSize() int {
	return b.size
}

func (b *levelBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *levelBatch) Reset() {
	b.b.Reset()
	b.size = 0
}

func (b *levelBatch) Replay(w ethdb.KeyValueWriter) error {
	return b.b.Replay(&batchReplayer{w: w})
}

type batchReplayer struct {
	w   ethdb.KeyValueWriter
	err error
}

func (r *batchReplayer) Put(key, value []byte) {
	if r.err != nil {
		return
	}
	r.err = r.w.Put(key, value)
}

func (r *batchReplayer) Delete(key []byte) {
	if r.err != nil {
		return
	}
	r.err = r.w.Delete(key)
}
