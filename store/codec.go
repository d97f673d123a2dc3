// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/xpr"
)

type Type byte

const (
	TypeNull    Type = 0
	TypeBool    Type = 1
	TypeInt     Type = 2
	TypeFloat   Type = 3
	TypeString  Type = 4
	TypeSymbol  Type = 5
	TypeKeyword Type = 6
	TypeVec     Type = 7
	TypeForm    Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeSymbol:
		return "symbol"
	case TypeKeyword:
		return "keyword"
	case TypeVec:
		return "vec"
	case TypeForm:
		return "form"
	}
	return "unknown"
}

func Encode(x xpr.Expr) []byte {
	buf := make([]byte, 0, 1024)
	return encode(x, buf)
}

func encode(x xpr.Expr, buf []byte) []byte {
	switch x := x.(type) {

	case xpr.Null:
		return append(buf, byte(TypeNull))

	case xpr.Bool:
		buf = append(buf, byte(TypeBool))
		if x {
			return append(buf, 't')
		}
		return append(buf, 'f')

	case xpr.Int:
		buf = append(buf, byte(TypeInt))
		return writeUint64(uint64(x), buf)

	case xpr.Float:
		buf = append(buf, byte(TypeFloat))
		return writeUint64(math.Float64bits(float64(x)), buf)

	case xpr.String:
		buf = append(buf, byte(TypeString))
		return writeString(string(x), buf)

	case xpr.Symbol:
		buf = append(buf, byte(TypeSymbol))
		return writeString(string(x), buf)

	case xpr.Keyword:
		buf = append(buf, byte(TypeKeyword))
		return writeString(string(x), buf)

	case xpr.Vec:
		buf = append(buf, byte(TypeVec))
		buf = writeLength(len(x), buf)
		for _, w := range x {
			buf = encode(w, buf)
		}
		return buf

	case xpr.Form:
		// spans are diagnostics, not data
		buf = append(buf, byte(TypeForm))
		buf = writeLength(len(x.Items), buf)
		for _, w := range x.Items {
			buf = encode(w, buf)
		}
		return buf
	}

	panic(fmt.Sprintf(`unhandled type: %T`, x))
}

func Decode(data []byte) (xpr.Expr, err.Error) {
	x, d, e := decode(data)
	if e != nil {
		return nil, err.CodecError{Problem: e.Error(), Offset: len(data) - len(d), Child_: e}
	}
	return x, nil
}

func decode(data []byte) (xpr.Expr, []byte, err.Error) {

	r, data, e := readBytes(1, data)
	if e != nil {
		return nil, data, e
	}

	switch t := Type(r[0]); t {

	case TypeNull:
		return xpr.Null{}, data, nil

	case TypeBool:
		r, data, e := readBytes(1, data)
		if e != nil {
			return nil, data, e
		}
		if r[0] == 't' {
			return xpr.Bool(true), data, nil
		}
		if r[0] == 'f' {
			return xpr.Bool(false), data, nil
		}
		return nil, data, codecError(fmt.Sprintf(`expected 't' or 'f', got: %s`, string(r[0])))

	case TypeInt:
		n, data, e := readUint64(data)
		if e != nil {
			return nil, data, e
		}
		return xpr.Int(int64(n)), data, nil

	case TypeFloat:
		n, data, e := readUint64(data)
		if e != nil {
			return nil, data, e
		}
		return xpr.Float(math.Float64frombits(n)), data, nil

	case TypeString:
		s, data, e := readString(data)
		if e != nil {
			return nil, data, e
		}
		return xpr.String(s), data, nil

	case TypeSymbol:
		s, data, e := readString(data)
		if e != nil {
			return nil, data, e
		}
		return xpr.Symbol(s), data, nil

	case TypeKeyword:
		s, data, e := readString(data)
		if e != nil {
			return nil, data, e
		}
		return xpr.Keyword(s), data, nil

	case TypeVec:
		l, data, e := readLength(data)
		if e != nil {
			return nil, data, e
		}
		v := make(xpr.Vec, l, l)
		for i := 0; i < l; i++ {
			w, d, e := decode(data)
			if e != nil {
				return nil, d, e
			}
			v[i], data = w, d
		}
		return v, data, nil

	case TypeForm:
		l, data, e := readLength(data)
		if e != nil {
			return nil, data, e
		}
		f := xpr.Form{Items: make([]xpr.Expr, l, l)}
		for i := 0; i < l; i++ {
			w, d, e := decode(data)
			if e != nil {
				return nil, d, e
			}
			f.Items[i], data = w, d
		}
		return f, data, nil
	}

	return nil, data, codecError(fmt.Sprintf(`invalid type specifier: %d`, r[0]))
}

func codecError(problem string) err.Error {
	return err.CodecError{Problem: problem}
}

func readBytes(n int, data []byte) ([]byte, []byte, err.Error) {
	if len(data) < n {
		return nil, data, codecError(`unexpected EOF`)
	}
	return data[:n], data[n:], nil
}

func readLength(data []byte) (int, []byte, err.Error) {
	r, data, e := readUint32(data)
	if e != nil {
		return 0, data, e
	}
	l := int(r)
	if l < 0 || l > len(data) {
		return 0, data, codecError(fmt.Sprintf(`length exceeds input bounds: %d`, l))
	}
	return l, data, nil
}

func readString(data []byte) (string, []byte, err.Error) {
	l, data, e := readLength(data)
	if e != nil {
		return "", data, e
	}
	return string(data[:l]), data[l:], nil
}

func writeString(s string, buf []byte) []byte {
	bs := []byte(s)
	return append(writeLength(len(bs), buf), bs...)
}

func writeLength(l int, buf []byte) []byte {
	return writeUint32(uint32(l), buf)
}

func writeUint32(n uint32, buf []byte) []byte {
	bs := [4]byte{}
	binary.BigEndian.PutUint32(bs[:], n)
	return append(buf, bs[:]...)
}

func readUint32(data []byte) (uint32, []byte, err.Error) {
	bs, data, e := readBytes(4, data)
	if e != nil {
		return 0, data, e
	}
	return binary.BigEndian.Uint32(bs), data, nil
}

func writeUint64(n uint64, buf []byte) []byte {
	bs := [8]byte{}
	binary.BigEndian.PutUint64(bs[:], n)
	return append(buf, bs[:]...)
}

func readUint64(data []byte) (uint64, []byte, err.Error) {
	bs, data, e := readBytes(8, data)
	if e != nil {
		return 0, data, e
	}
	return binary.BigEndian.Uint64(bs), data, nil
}
