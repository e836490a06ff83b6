package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// ClockSyncTopicID is the reserved topic id for clock-sync timestamp
// exchanges. Records carrying it are never delivered as topic values.
const ClockSyncTopicID int32 = -1

// Binary decoding errors.
var (
	ErrShortTuple      = errors.New("protocol: binary tuple has fewer than 4 elements")
	ErrUnknownTypeCode = errors.New("protocol: unknown binary type code")
)

// BinaryMessage is one decoded value-update tuple.
type BinaryMessage struct {
	ID          int32
	TimestampUs int64
	Value       Value
}

// EncodeBinary serializes one value-update tuple as a MessagePack array
// [topicId, timestampUs, typeCode, value].
func EncodeBinary(id int32, timestampUs int64, v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(4); err != nil {
		return nil, fmt.Errorf("protocol: encode binary tuple: %w", err)
	}
	if err := enc.EncodeInt(int64(id)); err != nil {
		return nil, fmt.Errorf("protocol: encode topic id: %w", err)
	}
	if err := enc.EncodeInt(timestampUs); err != nil {
		return nil, fmt.Errorf("protocol: encode timestamp: %w", err)
	}
	if err := enc.EncodeInt(int64(v.Type)); err != nil {
		return nil, fmt.Errorf("protocol: encode type code: %w", err)
	}
	if err := encodeValue(enc, v); err != nil {
		return nil, fmt.Errorf("protocol: encode value: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch v.Type {
	case TypeBoolean:
		return enc.EncodeBool(v.Boolean)
	case TypeDouble:
		return enc.EncodeFloat64(v.Double)
	case TypeInt:
		return enc.EncodeInt(v.Int)
	case TypeString, TypeJSON:
		return enc.EncodeString(v.String)
	case TypeRaw:
		return enc.EncodeBytes(v.Raw)
	case TypeBooleanArray:
		if err := enc.EncodeArrayLen(len(v.Booleans)); err != nil {
			return err
		}
		for _, b := range v.Booleans {
			if err := enc.EncodeBool(b); err != nil {
				return err
			}
		}
		return nil
	case TypeDoubleArray:
		if err := enc.EncodeArrayLen(len(v.Doubles)); err != nil {
			return err
		}
		for _, d := range v.Doubles {
			if err := enc.EncodeFloat64(d); err != nil {
				return err
			}
		}
		return nil
	case TypeIntArray:
		if err := enc.EncodeArrayLen(len(v.Ints)); err != nil {
			return err
		}
		for _, i := range v.Ints {
			if err := enc.EncodeInt(i); err != nil {
				return err
			}
		}
		return nil
	case TypeFloatArray:
		if err := enc.EncodeArrayLen(len(v.Floats)); err != nil {
			return err
		}
		for _, f := range v.Floats {
			if err := enc.EncodeFloat32(f); err != nil {
				return err
			}
		}
		return nil
	case TypeStringArray:
		if err := enc.EncodeArrayLen(len(v.Strings)); err != nil {
			return err
		}
		for _, s := range v.Strings {
			if err := enc.EncodeString(s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownTypeCode, int(v.Type))
	}
}

// DecodeBinary parses a binary frame into its value-update tuples. A frame
// may batch multiple tuples back to back; the reference protocol sends one
// per frame for publishes, but batches must still decode. On a malformed
// tuple the tuples decoded so far are returned together with the error, never
// a silently defaulted value.
func DecodeBinary(data []byte) ([]BinaryMessage, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	var msgs []BinaryMessage
	for {
		n, err := dec.DecodeArrayLen()
		if errors.Is(err, io.EOF) {
			return msgs, nil
		}
		if err != nil {
			return msgs, fmt.Errorf("protocol: decode binary tuple %d: %w", len(msgs), err)
		}
		if n < 4 {
			return msgs, fmt.Errorf("%w: got %d", ErrShortTuple, n)
		}

		msg, err := decodeTuple(dec)
		if err != nil {
			return msgs, fmt.Errorf("protocol: decode binary tuple %d: %w", len(msgs), err)
		}
		// Tolerate trailing elements from newer protocol revisions.
		for i := 4; i < n; i++ {
			if err := dec.Skip(); err != nil {
				return msgs, fmt.Errorf("protocol: decode binary tuple %d: %w", len(msgs), err)
			}
		}
		msgs = append(msgs, msg)
	}
}

func decodeTuple(dec *msgpack.Decoder) (BinaryMessage, error) {
	id, err := dec.DecodeInt64()
	if err != nil {
		return BinaryMessage{}, fmt.Errorf("topic id: %w", err)
	}
	ts, err := dec.DecodeInt64()
	if err != nil {
		return BinaryMessage{}, fmt.Errorf("timestamp: %w", err)
	}
	code, err := dec.DecodeInt64()
	if err != nil {
		return BinaryMessage{}, fmt.Errorf("type code: %w", err)
	}
	v, err := decodeValue(dec, DataType(code))
	if err != nil {
		return BinaryMessage{}, fmt.Errorf("value: %w", err)
	}
	return BinaryMessage{ID: int32(id), TimestampUs: ts, Value: v}, nil
}

func decodeValue(dec *msgpack.Decoder, code DataType) (Value, error) {
	switch code {
	case TypeBoolean:
		b, err := dec.DecodeBool()
		return BooleanValue(b), err
	case TypeDouble:
		d, err := dec.DecodeFloat64()
		return DoubleValue(d), err
	case TypeInt:
		i, err := dec.DecodeInt64()
		return IntValue(i), err
	case TypeString:
		s, err := dec.DecodeString()
		return StringValue(s), err
	case TypeJSON:
		s, err := dec.DecodeString()
		return JSONValue(s), err
	case TypeRaw:
		b, err := dec.DecodeBytes()
		return RawValue(b), err
	case TypeBooleanArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		out := make([]bool, n)
		for i := range out {
			if out[i], err = dec.DecodeBool(); err != nil {
				return Value{}, err
			}
		}
		return BooleanArrayValue(out), nil
	case TypeDoubleArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		out := make([]float64, n)
		for i := range out {
			if out[i], err = dec.DecodeFloat64(); err != nil {
				return Value{}, err
			}
		}
		return DoubleArrayValue(out), nil
	case TypeIntArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		out := make([]int64, n)
		for i := range out {
			if out[i], err = dec.DecodeInt64(); err != nil {
				return Value{}, err
			}
		}
		return IntArrayValue(out), nil
	case TypeFloatArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		out := make([]float32, n)
		for i := range out {
			if out[i], err = dec.DecodeFloat32(); err != nil {
				return Value{}, err
			}
		}
		return FloatArrayValue(out), nil
	case TypeStringArray:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		out := make([]string, n)
		for i := range out {
			if out[i], err = dec.DecodeString(); err != nil {
				return Value{}, err
			}
		}
		return StringArrayValue(out), nil
	default:
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownTypeCode, int(code))
	}
}
