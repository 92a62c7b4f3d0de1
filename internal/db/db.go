package db

import (
	"context"
	"encoding/binary"
	"errors"

	badger "github.com/dgraph-io/badger/v3"
)

// ErrNotFound is returned for a device or value that was never stored.
var ErrNotFound = errors.New("db: not found")

var (
	devicePrefix = []byte("dev/")
	valuePrefix  = []byte("kv/")
)

type DeviceDB interface {
	GetDevices(ctx context.Context) ([]Device, error)
	GetDevice(ctx context.Context, ieeeAddress uint64) (Device, error)
	SaveDevice(ctx context.Context, device Device) error
	// DeleteDevice removes the device record and every value stored for it.
	DeleteDevice(ctx context.Context, ieeeAddress uint64) error

	GetValue(ctx context.Context, ieeeAddress uint64, key string, out interface{}) error
	SetValue(ctx context.Context, ieeeAddress uint64, key string, value interface{}) error
	DeleteValue(ctx context.Context, ieeeAddress uint64, key string) error

	Close(ctx context.Context) error
}

func NewDeviceDB(dirname string) (DeviceDB, error) {
	opt := badger.DefaultOptions(dirname)
	opt.ValueLogFileSize = 1024 * 1024 * 40
	opt.Logger = nil

	db, err := badger.Open(opt)
	if err != nil {
		return nil, err
	}

	return &deviceDB{
		db: db,
	}, nil
}

type deviceDB struct {
	db *badger.DB
}

func deviceKey(ieeeAddress uint64) []byte {
	key := make([]byte, len(devicePrefix)+8)
	copy(key, devicePrefix)
	binary.LittleEndian.PutUint64(key[len(devicePrefix):], ieeeAddress)

	return key
}

func (d *deviceDB) GetDevices(ctx context.Context) ([]Device, error) {
	var ret []Device
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = devicePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var dev Device
				if err := decMode.Unmarshal(v, &dev); err != nil {
					return err
				}

				dev.IEEEAddress = binary.LittleEndian.Uint64(item.Key()[len(devicePrefix):])
				ret = append(ret, dev)

				return nil
			})

			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return ret, nil
}

func (d *deviceDB) SaveDevice(ctx context.Context, device Device) error {
	buf, err := encMode.Marshal(device)
	if err != nil {
		return err
	}

	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deviceKey(device.IEEEAddress), buf)
	})
}

func (d *deviceDB) DeleteDevice(ctx context.Context, ieeeAddress uint64) error {
	return d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(deviceKey(ieeeAddress)); err != nil {
			return err
		}

		return deleteValues(txn, valueKey(ieeeAddress, ""))
	})
}

func (d *deviceDB) GetDevice(ctx context.Context, ieeeAddress uint64) (Device, error) {
	var ret Device
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deviceKey(ieeeAddress))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(func(v []byte) error {
			return decMode.Unmarshal(v, &ret)
		})
	})

	if err != nil {
		return Device{}, err
	}

	return ret, nil
}

func (d *deviceDB) Close(ctx context.Context) error {
	return d.db.Close()
}
