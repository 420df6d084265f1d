package paramfile

import (
	"errors"
	"testing"

	"github.com/danmuck/paramctl/internal/params"
	"github.com/danmuck/paramctl/internal/testutil/testlog"
)

func TestParseMixedFormats(t *testing.T) {
	testlog.Start(t)

	text := "# exported by ground station\n" +
		"THR_MIN,0.1\n" +
		"\n" +
		"ARMING_CHECK 1\n" +
		"1\t1\tBATT_CAPACITY\t5000\t6\n" +
		"THR_MIN,0.15\n"

	got, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("unexpected entry count: %d (%v)", len(got), got)
	}
	if got["THR_MIN"] != 0.15 {
		t.Fatalf("expected last THR_MIN to win, got %v", got["THR_MIN"])
	}
	if got["ARMING_CHECK"] != 1 || got["BATT_CAPACITY"] != 5000 {
		t.Fatalf("unexpected values: %v", got)
	}
}

func TestParseRejectsMalformedAndNonFinite(t *testing.T) {
	testlog.Start(t)

	if _, err := Parse("THR_MIN\n"); !errors.Is(err, ErrMalformedLine) {
		t.Fatalf("expected ErrMalformedLine, got %v", err)
	}
	if _, err := Parse("THR_MIN,abc\n"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if _, err := Parse("THR_MIN,NaN\n"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected non-finite rejection, got %v", err)
	}
	if _, err := Parse(",1\n"); !errors.Is(err, ErrMalformedLine) {
		t.Fatalf("expected missing-name rejection, got %v", err)
	}
}

func TestFormatSortedAndTyped(t *testing.T) {
	testlog.Start(t)

	store := params.Snapshot{
		"THR_MIN":      {Name: "THR_MIN", Value: 0.1, Type: params.TypeFloat},
		"ARMING_CHECK": {Name: "ARMING_CHECK", Value: 1.0000001, Type: params.TypeUint8},
	}
	got := Format(store)
	want := "ARMING_CHECK,1\nTHR_MIN,0.1\n"
	if got != want {
		t.Fatalf("unexpected format:\n%s\nwant:\n%s", got, want)
	}

	back, err := Parse(got)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back["ARMING_CHECK"] != 1 || back["THR_MIN"] != 0.1 {
		t.Fatalf("unexpected reparse: %v", back)
	}
}
