package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestBinaryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   int32
		ts   int64
		val  Value
	}{
		{"boolean", 1, 100, BooleanValue(true)},
		{"double", 2, 200, DoubleValue(3.25)},
		{"int", 3, 300, IntValue(-42)},
		{"string", 4, 400, StringValue("hello")},
		{"json", 5, 500, JSONValue(`{"a":1}`)},
		{"raw", 6, 600, RawValue([]byte{0xde, 0xad})},
		{"boolean_array", 7, 700, BooleanArrayValue([]bool{true, false, true})},
		{"double_array", 8, 800, DoubleArrayValue([]float64{1.5, -2.5})},
		{"int_array", 9, 900, IntArrayValue([]int64{1, 2, 3})},
		{"float_array", 10, 1000, FloatArrayValue([]float32{0.5, 1.5})},
		{"string_array", 11, 1100, StringArrayValue([]string{"a", "b"})},
		{"empty_array", 12, 1200, IntArrayValue([]int64{})},
		{"clock_sync", ClockSyncTopicID, 0, IntValue(123456)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeBinary(tc.id, tc.ts, tc.val)
			if err != nil {
				t.Fatalf("EncodeBinary() error = %v", err)
			}

			msgs, err := DecodeBinary(data)
			if err != nil {
				t.Fatalf("DecodeBinary() error = %v", err)
			}
			if len(msgs) != 1 {
				t.Fatalf("DecodeBinary() returned %d tuples, want 1", len(msgs))
			}

			got := msgs[0]
			if got.ID != tc.id {
				t.Errorf("ID = %d, want %d", got.ID, tc.id)
			}
			if got.TimestampUs != tc.ts {
				t.Errorf("TimestampUs = %d, want %d", got.TimestampUs, tc.ts)
			}
			if !got.Value.Equal(tc.val) {
				t.Errorf("Value = %#v, want %#v", got.Value, tc.val)
			}
		})
	}
}

func TestDecodeBinaryBatch(t *testing.T) {
	var frame []byte
	want := []BinaryMessage{
		{ID: 1, TimestampUs: 10, Value: IntValue(1)},
		{ID: 2, TimestampUs: 20, Value: DoubleValue(2.5)},
		{ID: 3, TimestampUs: 30, Value: StringValue("x")},
	}
	for _, msg := range want {
		data, err := EncodeBinary(msg.ID, msg.TimestampUs, msg.Value)
		if err != nil {
			t.Fatalf("EncodeBinary() error = %v", err)
		}
		frame = append(frame, data...)
	}

	msgs, err := DecodeBinary(frame)
	if err != nil {
		t.Fatalf("DecodeBinary() error = %v", err)
	}
	if len(msgs) != len(want) {
		t.Fatalf("DecodeBinary() returned %d tuples, want %d", len(msgs), len(want))
	}
	for i, msg := range msgs {
		if msg.ID != want[i].ID || msg.TimestampUs != want[i].TimestampUs || !msg.Value.Equal(want[i].Value) {
			t.Errorf("tuple %d = %+v, want %+v", i, msg, want[i])
		}
	}
}

func TestDecodeBinaryEmptyFrame(t *testing.T) {
	msgs, err := DecodeBinary(nil)
	if err != nil {
		t.Fatalf("DecodeBinary(nil) error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("DecodeBinary(nil) returned %d tuples, want 0", len(msgs))
	}
}

func TestDecodeBinaryShortTuple(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeInt(1); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeInt(2); err != nil {
		t.Fatal(err)
	}

	_, err := DecodeBinary(buf.Bytes())
	if !errors.Is(err, ErrShortTuple) {
		t.Errorf("DecodeBinary() error = %v, want ErrShortTuple", err)
	}
}

func TestDecodeBinaryUnknownTypeCode(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(4); err != nil {
		t.Fatal(err)
	}
	for _, v := range []int64{1, 100, 99} { // type code 99 does not exist
		if err := enc.EncodeInt(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.EncodeBool(true); err != nil {
		t.Fatal(err)
	}

	_, err := DecodeBinary(buf.Bytes())
	if !errors.Is(err, ErrUnknownTypeCode) {
		t.Errorf("DecodeBinary() error = %v, want ErrUnknownTypeCode", err)
	}
}

func TestDecodeBinaryMalformedStopsWithError(t *testing.T) {
	good, err := EncodeBinary(1, 10, IntValue(5))
	if err != nil {
		t.Fatal(err)
	}
	frame := append(good, 0xc1) // 0xc1 is never a valid msgpack byte

	msgs, err := DecodeBinary(frame)
	if err == nil {
		t.Error("DecodeBinary() error = nil, want explicit decode error")
	}
	if len(msgs) != 1 {
		t.Errorf("DecodeBinary() returned %d tuples before error, want 1", len(msgs))
	}
}

func TestDecodeBinaryTolerantOfExtraElements(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(5); err != nil {
		t.Fatal(err)
	}
	for _, v := range []int64{7, 1234, int64(TypeInt), 99} {
		if err := enc.EncodeInt(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.EncodeString("future"); err != nil {
		t.Fatal(err)
	}

	msgs, err := DecodeBinary(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBinary() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("DecodeBinary() returned %d tuples, want 1", len(msgs))
	}
	if msgs[0].ID != 7 || !msgs[0].Value.Equal(IntValue(99)) {
		t.Errorf("tuple = %+v, want id=7 value=99", msgs[0])
	}
}

func BenchmarkEncodeBinary(b *testing.B) {
	v := DoubleValue(3.14159)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = EncodeBinary(12, int64(i), v)
	}
}

func BenchmarkDecodeBinary(b *testing.B) {
	data, _ := EncodeBinary(12, 42, DoubleValue(3.14159))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DecodeBinary(data)
	}
}
