// Package gguf parses the GGUF container header: magic, version, a
// metadata key/value table, and a tensor directory. Multi-byte numbers
// are little-endian (spec.md §6). This is the external GGUF parser
// spec.md treats as a given; it is grounded on the original
// implementation's reader (original_source/src/infra/gguf/mod.rs),
// translated from its byte-for-byte reading order into Go, with the
// per-tensor offset field actually read (the original leaves it zero).
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
)

const magic = 0x46554747 // "GGUF" little-endian

// ValueType is the GGUF metadata value type tag.
type ValueType uint32

const (
	TypeUint8 ValueType = iota
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeFloat32
	TypeBool
	TypeString
	TypeArray
	TypeUint64
	TypeInt64
	TypeFloat64
)

// GgmlType identifies a tensor's quantization/storage format.
type GgmlType uint32

const (
	F32 GgmlType = iota
	F16
	Q4_0
	Q4_1
	_reserved0
	_reserved1
	Q5_0
	Q5_1
	Q8_0
	Q8_1
	Q2K
	Q3K
	Q4K
	Q5K
	Q6K
	Q8K
	I8
	I16
	I32
)

// TensorInfo describes one tensor's shape, storage type, and byte
// offset within the data segment.
type TensorInfo struct {
	Name   string
	Shape  []uint64
	Dtype  GgmlType
	Offset uint64
}

// File is the parsed view spec.md §6 calls
// "{version, metadata: {key→value}, tensors: [...]}"
type File struct {
	Version     uint32
	TensorCount uint64
	Metadata    map[string]any
	Tensors     []TensorInfo
}

// Architecture returns metadata["general.architecture"], or "" if
// absent.
func (f *File) Architecture() string {
	return f.String("general.architecture")
}

func (f *File) String(key string) string {
	if v, ok := f.Metadata[key].(string); ok {
		return v
	}
	return ""
}

func (f *File) Uint(key string) uint64 {
	switch v := f.Metadata[key].(type) {
	case uint64:
		return v
	case int64:
		return uint64(v)
	}
	return 0
}

func (f *File) Float(key string) float64 {
	switch v := f.Metadata[key].(type) {
	case float64:
		return v
	case uint64:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Parse reads a GGUF file from r, which must support io.Reader (a
// single forward pass; tensor data itself is never read here, only the
// header and directory).
func Parse(r io.Reader) (*File, error) {
	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, fmt.Errorf("gguf: read magic: %w", err)
	}
	if m != magic {
		return nil, fmt.Errorf("gguf: bad magic %08x", m)
	}

	f := &File{Metadata: make(map[string]any)}
	if err := binary.Read(r, binary.LittleEndian, &f.Version); err != nil {
		return nil, fmt.Errorf("gguf: read version: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &f.TensorCount); err != nil {
		return nil, fmt.Errorf("gguf: read tensor count: %w", err)
	}

	var kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return nil, fmt.Errorf("gguf: read kv count: %w", err)
	}

	for i := uint64(0); i < kvCount; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: read metadata key %d: %w", i, err)
		}
		val, err := readValue(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: read metadata value for %q: %w", key, err)
		}
		f.Metadata[key] = val
	}

	f.Tensors = make([]TensorInfo, 0, f.TensorCount)
	for i := uint64(0); i < f.TensorCount; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: read tensor %d name: %w", i, err)
		}
		var nDims uint32
		if err := binary.Read(r, binary.LittleEndian, &nDims); err != nil {
			return nil, fmt.Errorf("gguf: read tensor %d dims: %w", i, err)
		}
		shape := make([]uint64, nDims)
		for d := range shape {
			if err := binary.Read(r, binary.LittleEndian, &shape[d]); err != nil {
				return nil, fmt.Errorf("gguf: read tensor %d shape: %w", i, err)
			}
		}
		var dtype uint32
		if err := binary.Read(r, binary.LittleEndian, &dtype); err != nil {
			return nil, fmt.Errorf("gguf: read tensor %d dtype: %w", i, err)
		}
		var offset uint64
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("gguf: read tensor %d offset: %w", i, err)
		}
		f.Tensors = append(f.Tensors, TensorInfo{Name: name, Shape: shape, Dtype: GgmlType(dtype), Offset: offset})
	}

	return f, nil
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readValue(r io.Reader) (any, error) {
	var t uint32
	if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
		return nil, err
	}
	return readTypedValue(r, ValueType(t))
}

func readTypedValue(r io.Reader, t ValueType) (any, error) {
	switch t {
	case TypeUint8:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case TypeInt8:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case TypeUint16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case TypeInt16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case TypeUint32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case TypeInt32:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case TypeFloat32:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case TypeUint64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case TypeInt64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case TypeFloat64:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case TypeBool:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v != 0, err
	case TypeString:
		return readString(r)
	case TypeArray:
		var elemType uint32
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return nil, err
		}
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		arr := make([]any, n)
		for i := range arr {
			v, err := readTypedValue(r, ValueType(elemType))
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("gguf: unknown value type %d", t)
	}
}
