// Package params holds the parameter value model shared by the engine, the
// device link, and the file codec.
//
// Values are carried as float64 regardless of declared type. Integral types
// follow the protocol convention of comparing and displaying the rounded value.
package params

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var ErrUnknownType = errors.New("params: unknown type")

// Type is the declared storage type of one parameter on the device.
type Type uint8

const (
	TypeFloat Type = iota
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
)

var typeNames = map[Type]string{
	TypeFloat:  "float",
	TypeInt8:   "int8",
	TypeUint8:  "uint8",
	TypeInt16:  "int16",
	TypeUint16: "uint16",
	TypeInt32:  "int32",
	TypeUint32: "uint32",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Integral reports whether values of t are rounded before comparison.
func (t Type) Integral() bool {
	return t != TypeFloat
}

func (t Type) MarshalText() ([]byte, error) {
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType resolves a type name such as "uint8" or "float".
func ParseType(raw string) (Type, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	switch key {
	case "real32", "float32":
		return TypeFloat, nil
	}
	for t, name := range typeNames {
		if name == key {
			return t, nil
		}
	}
	return TypeFloat, fmt.Errorf("%w: %q", ErrUnknownType, raw)
}

// Normalize returns v as the device would hold it for type t.
func (t Type) Normalize(v float64) float64 {
	if t.Integral() {
		return math.Round(v)
	}
	return v
}

// Equal is exact equality after type-aware rounding. Floats compare at the
// 32-bit width the device stores them in; values outside float32 range
// compare at full width.
func (t Type) Equal(a, b float64) bool {
	if !t.Integral() {
		fa, fb := float32(a), float32(b)
		if math.IsInf(float64(fa), 0) || math.IsInf(float64(fb), 0) {
			return a == b
		}
		return fa == fb
	}
	return t.Normalize(a) == t.Normalize(b)
}

// Format renders v the way the type is displayed.
func (t Type) Format(v float64) string {
	if t.Integral() {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Param is one authoritative parameter value.
type Param struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Type  Type    `json:"type"`
}

// Entry is one (name, value) pair submitted for writing.
type Entry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// WriteResult is the device's per-entry outcome of a batch write.
type WriteResult struct {
	Name           string   `json:"name"`
	Succeeded      bool     `json:"succeeded"`
	ConfirmedValue *float64 `json:"confirmed_value,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Progress tracks a running full download.
type Progress struct {
	Received int `json:"received"`
	Expected int `json:"expected"`
}

// Done reports whether every expected parameter has arrived.
func (p Progress) Done() bool {
	return p.Expected > 0 && p.Received >= p.Expected
}

// Snapshot is a full name->Param mapping as downloaded from the device.
type Snapshot map[string]Param

// Names returns the snapshot keys in lexicographic order.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Finite reports whether v is usable as a parameter value.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SortEntries orders entries by name in place.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

// Float64Ptr is a helper for optional confirmed values.
func Float64Ptr(v float64) *float64 {
	return &v
}
