// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package store

import (
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	"golang.org/x/crypto/blake2b"

	"github.com/siftdb/sift/definitions"
	"github.com/siftdb/sift/qc"
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/xpr"
)

const (
	InitialMmapSize = 1024 * 1024 * 16 // 16MB
	Perm            = 0700
)

// Fact is one assertion as persisted: four value positions plus the
// logical clock tick it was recorded at.
type Fact struct {
	Entity    xpr.Expr
	Attribute xpr.Expr
	Value     xpr.Expr
	Bag       xpr.Expr
	Tick      int64
}

// Bolt is the persistent store. Facts are content-addressed in one
// bucket; rule arms live in per-rule sub-buckets keyed by definition
// sequence number.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, e := bolt.Open(path, Perm, &bolt.Options{
		InitialMmapSize: InitialMmapSize,
		Timeout:         time.Second * 3,
	})
	if e != nil {
		return nil, e
	}
	e = db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(definitions.FactBucketBytes); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(definitions.RuleBucketBytes)
		return e
	})
	if e != nil {
		db.Close()
		return nil, e
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func (s *Bolt) IndexOf(bound qc.PositionSet) qc.Index {
	return SelectIndex(bound)
}

func encodeFact(f Fact) []byte {
	return Encode(xpr.Vec{
		f.Entity, f.Attribute, f.Value, f.Bag, xpr.Int(f.Tick),
	})
}

func decodeFact(data []byte) (Fact, err.Error) {
	x, e := Decode(data)
	if e != nil {
		return Fact{}, e
	}
	v, ok := x.(xpr.Vec)
	if !ok || len(v) != 5 {
		return Fact{}, err.CodecError{Problem: "stored fact is not a five-element sequence"}
	}
	tick, ok := v[4].(xpr.Int)
	if !ok {
		return Fact{}, err.CodecError{Problem: "stored fact tick is not an integer"}
	}
	return Fact{
		Entity:    v[0],
		Attribute: v[1],
		Value:     v[2],
		Bag:       v[3],
		Tick:      int64(tick),
	}, nil
}

// FactKey is the content address of a fact: the blake2b digest of its
// encoding. Re-asserting an identical fact is idempotent.
func FactKey(f Fact) [blake2b.Size256]byte {
	return blake2b.Sum256(encodeFact(f))
}

func (s *Bolt) PutFact(f Fact) err.Error {
	key := FactKey(f)
	e := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(definitions.FactBucketBytes).Put(key[:], encodeFact(f))
	})
	if e != nil {
		return err.StorageError{Problem: e.Error()}
	}
	return nil
}

func (s *Bolt) Facts(f func(Fact) err.Error) err.Error {
	var inner err.Error
	e := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(definitions.FactBucketBytes).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			fact, e := decodeFact(v)
			if e != nil {
				inner = e
				return e
			}
			if e := f(fact); e != nil {
				inner = e
				return e
			}
		}
		return nil
	})
	if inner != nil {
		return inner
	}
	if e != nil {
		return err.StorageError{Problem: e.Error()}
	}
	return nil
}

func encodeArm(params []string, body []xpr.Expr) []byte {
	ps := make(xpr.Vec, len(params))
	for i, p := range params {
		ps[i] = xpr.Symbol(p)
	}
	return Encode(xpr.Vec{ps, xpr.Vec(body)})
}

func decodeArm(data []byte) ([]string, []xpr.Expr, err.Error) {
	x, e := Decode(data)
	if e != nil {
		return nil, nil, e
	}
	v, ok := x.(xpr.Vec)
	if !ok || len(v) != 2 {
		return nil, nil, err.CodecError{Problem: "stored rule arm is not a pair"}
	}
	ps, ok := v[0].(xpr.Vec)
	if !ok {
		return nil, nil, err.CodecError{Problem: "stored rule parameters are not a sequence"}
	}
	params := make([]string, len(ps))
	for i, p := range ps {
		s, ok := p.(xpr.Symbol)
		if !ok {
			return nil, nil, err.CodecError{Problem: "stored rule parameter is not a symbol"}
		}
		params[i] = string(s)
	}
	body, ok := v[1].(xpr.Vec)
	if !ok {
		return nil, nil, err.CodecError{Problem: "stored rule body is not a sequence"}
	}
	return params, []xpr.Expr(body), nil
}

func (s *Bolt) DefineRule(name string, params []string, body []xpr.Expr) err.Error {
	if declared, ok := s.RuleSignature(name); ok {
		if e := checkSignature(name, declared, params); e != nil {
			return e
		}
	}
	e := s.db.Update(func(tx *bolt.Tx) error {
		b, e := tx.Bucket(definitions.RuleBucketBytes).CreateBucketIfNotExists([]byte(name))
		if e != nil {
			return e
		}
		seq, e := b.NextSequence()
		if e != nil {
			return e
		}
		key := [8]byte{}
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], encodeArm(params, body))
	})
	if e != nil {
		return err.StorageError{Problem: e.Error()}
	}
	return nil
}

func (s *Bolt) RuleArms(name string, f func(params []string, body []xpr.Expr) err.Error) (int, err.Error) {
	n := 0
	var inner err.Error
	e := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(definitions.RuleBucketBytes).Bucket([]byte(name))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			params, body, e := decodeArm(v)
			if e != nil {
				inner = e
				return e
			}
			if e := f(params, body); e != nil {
				inner = e
				return e
			}
			n++
		}
		return nil
	})
	if inner != nil {
		return 0, inner
	}
	if e != nil {
		return 0, err.StorageError{Problem: e.Error()}
	}
	return n, nil
}

func (s *Bolt) RuleSignature(name string) ([]string, bool) {
	var params []string
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(definitions.RuleBucketBytes).Bucket([]byte(name))
		if b == nil {
			return nil
		}
		_, v := b.Cursor().First()
		if v == nil {
			return nil
		}
		ps, _, e := decodeArm(v)
		if e != nil {
			return e
		}
		params = ps
		return nil
	})
	if params == nil {
		return nil, false
	}
	return params, true
}
