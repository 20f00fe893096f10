package core

import "github.com/openfabrics/ssad/cmn/atomic"

// Epoch is a monotonic 64-bit version counter stamped into a DB. Zero is
// reserved as invalid; wrap skips it (§3).
type Epoch uint64

const InvalidEpoch Epoch = 0

// Next returns the next epoch after e, skipping InvalidEpoch on wrap.
func (e Epoch) Next() Epoch {
	n := e + 1
	if n == InvalidEpoch {
		n++
	}
	return n
}

// Kind distinguishes an SMDB (subnet-wide) from a PRDB (per-consumer) value.
type Kind uint8

const (
	KindNone Kind = iota
	KindSMDB
	KindPRDB
)

func (k Kind) String() string {
	switch k {
	case KindSMDB:
		return "smdb"
	case KindPRDB:
		return "prdb"
	default:
		return "none"
	}
}

type (
	// TableDef describes one table's shape; FieldDef rows and the raw
	// data rows that follow it are opaque byte payloads as far as this
	// package is concerned -- parsing them is the province of whatever
	// installs a DB's actual layout (out of scope, spec §1).
	TableDef struct {
		Name   string
		Epoch  Epoch
		Fields []byte // serialized field-def dataset
		Data   []byte // serialized data dataset
	}

	// DB is the opaque, immutable typed database that gets replicated:
	// an SMDB snapshot or a PRDB computed from one (§3). "Immutable once
	// published; updates create a new DB value" -- callers never mutate
	// a *DB in place, they Publish a new one.
	DB struct {
		Kind   Kind
		Def    []byte // db_def payload
		Tables []TableDef
		Epoch  Epoch // overall epoch == epoch of the "def" table

		refs atomic.Int64
	}
)

// NewDB constructs a DB value. The caller owns the returned pointer; it
// must be Retain'd by every connection that starts serving it and
// Released when that connection returns to Idle (§4.4, §5 "SMDB reference
// on a server-side is refcounted").
func NewDB(kind Kind, epoch Epoch, def []byte, tables []TableDef) *DB {
	return &DB{Kind: kind, Def: def, Tables: tables, Epoch: epoch}
}

func (db *DB) Retain()       { db.refs.Add(1) }
func (db *DB) Release()      { db.refs.Add(-1) }
func (db *DB) RefCnt() int64 { return db.refs.Load() }

func (db *DB) TableCount() int { return len(db.Tables) }

func (db *DB) Table(i int) (TableDef, bool) {
	if i < 0 || i >= len(db.Tables) {
		return TableDef{}, false
	}
	return db.Tables[i], true
}

// Equal performs the byte-level comparison the round-trip law in spec §8
// requires: "A DB pulled ... and then re-served ... must produce an equal
// DB ... (byte-level equality of the tables and epoch)".
func (db *DB) Equal(other *DB) bool {
	if db == nil || other == nil {
		return db == other
	}
	if db.Kind != other.Kind || db.Epoch != other.Epoch || len(db.Tables) != len(other.Tables) {
		return false
	}
	if string(db.Def) != string(other.Def) {
		return false
	}
	for i := range db.Tables {
		a, b := db.Tables[i], other.Tables[i]
		if a.Name != b.Name || a.Epoch != b.Epoch || string(a.Fields) != string(b.Fields) || string(a.Data) != string(b.Data) {
			return false
		}
	}
	return true
}
