// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package localstore

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltEngine is the "embedded ordered store" selectable implementation: a
// single on-disk file, one bolt bucket per column family, one writer
// transaction at a time. Column families map to buckets the same way
// OneMount's boltdb cache maps "content"/"metadata"/"delta" to buckets.
type BoltEngine struct {
	db *bolt.DB
}

var _ Store = (*BoltEngine)(nil)

// OpenBoltEngine opens (creating if absent) the single-file store at path,
// ensuring every column family's bucket exists.
func OpenBoltEngine(path string) (*BoltEngine, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, ioErr("bolt.Open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, cf := range AllColumnFamilies {
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, corruptErr("creating column family buckets", err)
	}

	return &BoltEngine{db: db}, nil
}

func (e *BoltEngine) Get(cf ColumnFamily, key []byte) (value []byte, found bool, err error) {
	err = e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cf))
		if b == nil {
			return fmt.Errorf("unknown column family %q", cf)
		}
		v := b.Get(key)
		if v == nil {
			return nil
		}
		found = true
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return nil, false, ioErr("bolt view", err)
	}
	return value, found, nil
}

func (e *BoltEngine) Put(cf ColumnFamily, key []byte, value []byte) error {
	return e.BatchWrite([]WriteEntry{{CF: cf, Key: key, Value: value}})
}

// BatchWrite applies every entry inside a single bolt transaction, which is
// how the crash-atomicity and cross-family ordering guarantees from
// spec.md §4.1 are met: bolt's transaction either commits every bucket
// mutation or none of them.
func (e *BoltEngine) BatchWrite(entries []WriteEntry) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		for _, w := range entries {
			b := tx.Bucket([]byte(w.CF))
			if b == nil {
				var err error
				b, err = tx.CreateBucketIfNotExists([]byte(w.CF))
				if err != nil {
					return err
				}
			}
			if w.Value == nil {
				if err := b.Delete(w.Key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(w.Key, w.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioErr("bolt batch write", err)
	}
	return nil
}

func (e *BoltEngine) Clear(cf ColumnFamily) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(cf)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(cf))
		return err
	})
	if err != nil {
		return ioErr("bolt clear", err)
	}
	return nil
}

// Compact reclaims free pages by rewriting the bucket into a fresh one and
// swapping it in; bbolt has no built-in in-place vacuum.
func (e *BoltEngine) Compact(cf ColumnFamily) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		old := tx.Bucket([]byte(cf))
		if old == nil {
			return nil
		}
		tmpName := []byte(string(cf) + ".compact")
		_ = tx.DeleteBucket(tmpName)
		tmp, err := tx.CreateBucket(tmpName)
		if err != nil {
			return err
		}
		if err := old.ForEach(func(k, v []byte) error {
			return tmp.Put(k, v)
		}); err != nil {
			return err
		}
		if err := tx.DeleteBucket([]byte(cf)); err != nil {
			return err
		}
		return tx.Bucket(tmpName).SetSequence(0) // no-op touch to keep bucket
	})
	if err != nil {
		return ioErr("bolt compact", err)
	}
	// Rename the temp bucket back in a second transaction to avoid mutating
	// a bucket we're iterating within the same transaction.
	return e.db.Update(func(tx *bolt.Tx) error {
		tmpName := []byte(string(cf) + ".compact")
		tmp := tx.Bucket(tmpName)
		if tmp == nil {
			_, err := tx.CreateBucketIfNotExists([]byte(cf))
			return err
		}
		fresh, err := tx.CreateBucketIfNotExists([]byte(cf))
		if err != nil {
			return err
		}
		if err := tmp.ForEach(func(k, v []byte) error {
			return fresh.Put(k, v)
		}); err != nil {
			return err
		}
		return tx.DeleteBucket(tmpName)
	})
}

func (e *BoltEngine) Close() error {
	return e.db.Close()
}
