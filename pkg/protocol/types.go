package protocol

// DataType identifies the declared type of a topic and the wire type code of
// its values.
type DataType int

// Wire type codes. The scalar codes occupy 0-5; array codes start at 16.
const (
	TypeBoolean      DataType = 0
	TypeDouble       DataType = 1
	TypeInt          DataType = 2
	TypeString       DataType = 3
	TypeJSON         DataType = 4
	TypeRaw          DataType = 5 // also rpc, msgpack, protobuf
	TypeBooleanArray DataType = 16
	TypeDoubleArray  DataType = 17
	TypeIntArray     DataType = 18
	TypeFloatArray   DataType = 19
	TypeStringArray  DataType = 20
)

// String returns the declared type name used in control messages.
func (t DataType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	case TypeJSON:
		return "json"
	case TypeRaw:
		return "raw"
	case TypeBooleanArray:
		return "boolean[]"
	case TypeDoubleArray:
		return "double[]"
	case TypeIntArray:
		return "int[]"
	case TypeFloatArray:
		return "float[]"
	case TypeStringArray:
		return "string[]"
	default:
		return "raw"
	}
}

// DataTypeFromString maps a declared type name to its wire code.
// Unrecognized names map to TypeRaw, which is the protocol's opaque-binary
// catch-all.
func DataTypeFromString(name string) DataType {
	switch name {
	case "boolean":
		return TypeBoolean
	case "double":
		return TypeDouble
	case "int":
		return TypeInt
	case "string":
		return TypeString
	case "json":
		return TypeJSON
	case "raw", "rpc", "msgpack", "protobuf":
		return TypeRaw
	case "boolean[]":
		return TypeBooleanArray
	case "double[]":
		return TypeDoubleArray
	case "int[]":
		return TypeIntArray
	case "float[]":
		return TypeFloatArray
	case "string[]":
		return TypeStringArray
	default:
		return TypeRaw
	}
}
