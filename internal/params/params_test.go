package params

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/paramctl/internal/testutil/testlog"
)

func TestTypeEqualRoundsIntegralTypes(t *testing.T) {
	testlog.Start(t)

	if !TypeUint8.Equal(3, 3.4) {
		t.Fatalf("expected 3 and 3.4 equal for uint8")
	}
	if TypeUint8.Equal(3, 3.6) {
		t.Fatalf("expected 3 and 3.6 to differ for uint8")
	}
	if TypeFloat.Equal(0.1, 0.1000001) {
		t.Fatalf("float equality must be exact at 32-bit width")
	}
	if !TypeFloat.Equal(0.1, float64(float32(0.1))) {
		t.Fatalf("expected 0.1 to equal its float32 round trip")
	}
	if TypeFloat.Equal(1e39, 2e39) {
		t.Fatalf("values beyond float32 range must not collapse to +Inf equality")
	}
	if !TypeFloat.Equal(1e39, 1e39) {
		t.Fatalf("expected identical out-of-range values equal")
	}
	if got := TypeInt32.Format(41.7); got != "42" {
		t.Fatalf("unexpected integral format: %q", got)
	}
	if got := TypeFloat.Format(0.25); got != "0.25" {
		t.Fatalf("unexpected float format: %q", got)
	}
}

func TestParseTypeRoundTrip(t *testing.T) {
	testlog.Start(t)

	for typ := range typeNames {
		text, err := typ.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", typ, err)
		}
		var back Type
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if back != typ {
			t.Fatalf("round trip mismatch: %v -> %v", typ, back)
		}
	}
	if got, err := ParseType("REAL32"); err != nil || got != TypeFloat {
		t.Fatalf("expected REAL32 alias to parse as float, got=%v err=%v", got, err)
	}
	if _, err := ParseType("int64"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestToleranceWithin(t *testing.T) {
	testlog.Start(t)

	tol := Tolerance{Abs: 1e-4}
	if !tol.Within(TypeFloat, 0.1, 0.1000001) {
		t.Fatalf("expected 0.1000001 within tolerance of 0.1")
	}
	if tol.Within(TypeFloat, 1.0, 5.0) {
		t.Fatalf("expected 5.0 outside tolerance of 1.0")
	}
	if tol.Within(TypeInt16, 1, 2) {
		t.Fatalf("integral values must compare exactly")
	}
	if !tol.Within(TypeInt16, 2, 2.2) {
		t.Fatalf("integral values compare after rounding")
	}

	rel := Tolerance{Rel: 1e-6}
	if !rel.Within(TypeFloat, 1e6, 1e6+0.5) {
		t.Fatalf("expected relative tolerance to absorb large-magnitude noise")
	}
}

func TestFinite(t *testing.T) {
	if Finite(math.NaN()) || Finite(math.Inf(1)) || Finite(math.Inf(-1)) {
		t.Fatalf("non-finite values must be rejected")
	}
	if !Finite(0) || !Finite(-12.5) {
		t.Fatalf("finite values must pass")
	}
}

func TestSnapshotNamesSorted(t *testing.T) {
	s := Snapshot{
		"THR_MIN":  {Name: "THR_MIN", Value: 0.1, Type: TypeFloat},
		"ARMING":   {Name: "ARMING", Value: 1, Type: TypeUint8},
		"BATT_CAP": {Name: "BATT_CAP", Value: 5000, Type: TypeInt32},
	}
	names := s.Names()
	want := []string{"ARMING", "BATT_CAP", "THR_MIN"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected order: %v", names)
		}
	}
	clone := s.Clone()
	delete(clone, "ARMING")
	if _, ok := s["ARMING"]; !ok {
		t.Fatalf("clone must not alias source")
	}
}
