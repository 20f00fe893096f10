// Package dumpstore implements the smdb_dump/prdb_dump diagnostic
// persistence supplemented from the original implementation (§4.12): a DB
// handed to Put is written to a small embedded store keyed by kind and
// epoch so an operator can pull a historical snapshot without
// re-extracting it. The package does not read the config's *Dump flags
// and does not hook into publishing; a DB is stored only when a caller
// invokes Put.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package dumpstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/openfabrics/ssad/core"
)

var bucketName = []byte("dumps")

// Store persists DB snapshots to a bbolt file, in a single bucket whose
// keys are the Kind byte followed by the big-endian epoch.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("dumpstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// record is the on-disk representation; core.DB's Tables hold opaque
// byte payloads already, so this is a direct field-for-field mirror.
type record struct {
	Kind   core.Kind
	Def    []byte
	Tables []core.TableDef
	Epoch  core.Epoch
}

func key(kind core.Kind, epoch core.Epoch) []byte {
	b := make([]byte, 9)
	b[0] = byte(kind)
	binary.BigEndian.PutUint64(b[1:], uint64(epoch))
	return b
}

// Put persists db under (db.Kind, db.Epoch), overwriting any prior dump
// at the same epoch.
func (s *Store) Put(db *core.DB) error {
	rec := record{Kind: db.Kind, Def: db.Def, Tables: db.Tables, Epoch: db.Epoch}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key(db.Kind, db.Epoch), buf)
	})
}

// Get returns the dump recorded for (kind, epoch), or (nil, false) if none
// exists.
func (s *Store) Get(kind core.Kind, epoch core.Epoch) (*core.DB, bool, error) {
	var rec record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(bucketName).Get(key(kind, epoch))
		if buf == nil {
			return nil
		}
		found = true
		return json.Unmarshal(buf, &rec)
	})
	if err != nil || !found {
		return nil, found, err
	}
	return core.NewDB(rec.Kind, rec.Epoch, rec.Def, rec.Tables), true, nil
}

// Latest returns the highest-epoch dump recorded for kind.
func (s *Store) Latest(kind core.Kind) (*core.DB, bool, error) {
	var rec record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		prefix := []byte{byte(kind)}
		for k, v := c.Seek(prefix); k != nil && k[0] == prefix[0]; k, v = c.Next() {
			found = true
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || !found {
		return nil, found, err
	}
	return core.NewDB(rec.Kind, rec.Epoch, rec.Def, rec.Tables), true, nil
}
