package db

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
)

// valueKey is kv/<ieee>/<key>; an empty key gives the prefix of all values of a device.
func valueKey(ieeeAddress uint64, key string) []byte {
	ret := make([]byte, 0, len(valuePrefix)+9+len(key))
	ret = append(ret, valuePrefix...)
	ret = binary.LittleEndian.AppendUint64(ret, ieeeAddress)
	ret = append(ret, '/')

	return append(ret, key...)
}

func (d *deviceDB) GetValue(ctx context.Context, ieeeAddress uint64, key string, out interface{}) error {
	return d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(ieeeAddress, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: 0x%016x %v", ErrNotFound, ieeeAddress, key)
		}
		if err != nil {
			return err
		}

		return item.Value(func(v []byte) error {
			return decMode.Unmarshal(v, out)
		})
	})
}

func (d *deviceDB) SetValue(ctx context.Context, ieeeAddress uint64, key string, value interface{}) error {
	buf, err := encMode.Marshal(value)
	if err != nil {
		return err
	}

	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(valueKey(ieeeAddress, key), buf)
	})
}

func (d *deviceDB) DeleteValue(ctx context.Context, ieeeAddress uint64, key string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(valueKey(ieeeAddress, key))
	})
}

func deleteValues(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}

	return nil
}
