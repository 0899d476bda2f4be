package gguf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

func buildMinimalFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(magic))
	binary.Write(&buf, binary.LittleEndian, uint32(3)) // version
	binary.Write(&buf, binary.LittleEndian, uint64(1)) // tensor count
	binary.Write(&buf, binary.LittleEndian, uint64(2)) // kv count

	writeString(&buf, "general.architecture")
	binary.Write(&buf, binary.LittleEndian, uint32(TypeString))
	writeString(&buf, "llama")

	writeString(&buf, "llama.context_length")
	binary.Write(&buf, binary.LittleEndian, uint32(TypeUint32))
	binary.Write(&buf, binary.LittleEndian, uint32(4096))

	writeString(&buf, "token_embd.weight")
	binary.Write(&buf, binary.LittleEndian, uint32(2)) // nDims
	binary.Write(&buf, binary.LittleEndian, uint64(32000))
	binary.Write(&buf, binary.LittleEndian, uint64(4096))
	binary.Write(&buf, binary.LittleEndian, uint32(F16))
	binary.Write(&buf, binary.LittleEndian, uint64(128))

	return buf.Bytes()
}

func TestParseMinimalFile(t *testing.T) {
	f, err := Parse(bytes.NewReader(buildMinimalFile(t)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Version != 3 {
		t.Errorf("Version = %d, want 3", f.Version)
	}
	if f.Architecture() != "llama" {
		t.Errorf("Architecture() = %q, want %q", f.Architecture(), "llama")
	}
	if f.Uint("llama.context_length") != 4096 {
		t.Errorf("Uint(context_length) = %d, want 4096", f.Uint("llama.context_length"))
	}
	if len(f.Tensors) != 1 {
		t.Fatalf("Tensors = %v, want 1 entry", f.Tensors)
	}
	tensor := f.Tensors[0]
	if tensor.Name != "token_embd.weight" {
		t.Errorf("Tensors[0].Name = %q, want %q", tensor.Name, "token_embd.weight")
	}
	if tensor.Dtype != F16 {
		t.Errorf("Tensors[0].Dtype = %v, want F16", tensor.Dtype)
	}
	if tensor.Offset != 128 {
		t.Errorf("Tensors[0].Offset = %d, want 128", tensor.Offset)
	}
	if len(tensor.Shape) != 2 || tensor.Shape[0] != 32000 || tensor.Shape[1] != 4096 {
		t.Errorf("Tensors[0].Shape = %v, want [32000 4096]", tensor.Shape)
	}
}

func TestParseBadMagic(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0xdeadbeef))
	if _, err := Parse(&buf); err == nil {
		t.Fatalf("Parse with a bad magic number should error")
	}
}

func TestParseTruncatedFileErrors(t *testing.T) {
	full := buildMinimalFile(t)
	if _, err := Parse(bytes.NewReader(full[:10])); err == nil {
		t.Fatalf("Parse of a truncated file should error")
	}
}

func TestFileStringMissingKey(t *testing.T) {
	f := &File{Metadata: map[string]any{}}
	if got := f.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
}

func TestFileFloatAcceptsIntegerTypes(t *testing.T) {
	f := &File{Metadata: map[string]any{"a": uint64(5), "b": int64(-3), "c": float64(1.5)}}
	if f.Float("a") != 5 {
		t.Errorf("Float(a) = %v, want 5", f.Float("a"))
	}
	if f.Float("b") != -3 {
		t.Errorf("Float(b) = %v, want -3", f.Float("b"))
	}
	if f.Float("c") != 1.5 {
		t.Errorf("Float(c) = %v, want 1.5", f.Float("c"))
	}
}

func TestReadTypedValueArray(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(TypeUint32)) // elem type
	binary.Write(&buf, binary.LittleEndian, uint64(3))          // count
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	binary.Write(&buf, binary.LittleEndian, uint32(3))

	v, err := readTypedValue(&buf, TypeArray)
	if err != nil {
		t.Fatalf("readTypedValue: %v", err)
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("readTypedValue(array) = %v, want a 3-element slice", v)
	}
	if arr[0].(uint64) != 1 || arr[2].(uint64) != 3 {
		t.Errorf("readTypedValue(array) = %v, want [1 2 3]", arr)
	}
}
