package wire

// Type identifies how a single value is laid out on the wire.
type Type uint8

const (
	Int8 Type = iota + 1
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
	UTF8
)

var typeNames = [...]string{
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
	UTF8:    "utf8",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "unknown"
}

// Size returns the fixed encoded size of t, or 0 for variable-length types.
func (t Type) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// UintFor picks the narrowest unsigned type able to represent the count n.
func UintFor(n uint64) (Type, bool) {
	switch {
	case n < 1<<8:
		return Uint8, true
	case n < 1<<16:
		return Uint16, true
	case n < 1<<32:
		return Uint32, true
	default:
		return 0, false
	}
}
