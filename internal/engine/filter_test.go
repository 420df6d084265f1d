package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/paramctl/internal/metadata"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/danmuck/paramctl/internal/testutil/testlog"
)

func sampleStore() Store {
	return Store{
		"ARMING_CHECK": {Name: "ARMING_CHECK", Value: 1, Type: params.TypeInt32},
		"BATT_MONITOR": {Name: "BATT_MONITOR", Value: 4, Type: params.TypeInt8},
		"RTL_ALT":      {Name: "RTL_ALT", Value: 1500, Type: params.TypeInt32},
		"SERIAL0_BAUD": {Name: "SERIAL0_BAUD", Value: 115, Type: params.TypeInt32},
	}
}

func TestParseFilterMode(t *testing.T) {
	testlog.Start(t)

	cases := map[string]FilterMode{
		"":          DefaultFilterMode,
		"ALL":       FilterAll,
		" modified": FilterModified,
		"staged":    FilterModified,
		"standard":  FilterStandard,
	}
	for raw, want := range cases {
		got, err := ParseFilterMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseFilterMode(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseFilterMode("expert"); !errors.Is(err, ErrInvalidFilterMode) {
		t.Fatalf("expected ErrInvalidFilterMode, got %v", err)
	}
}

func TestClassifyModes(t *testing.T) {
	testlog.Start(t)

	store := sampleStore()
	staged := StagingSet{"RTL_ALT": 2000, "UNSEEN": 1}
	catalog := metadata.Catalog{
		"SERIAL0_BAUD": {AccessLevel: metadata.AccessAdvanced, Label: "Serial baud"},
		"BATT_MONITOR": {Label: "Battery monitor", Description: "Selects the power module"},
	}

	all := Classify(store, staged, catalog, FilterAll, "")
	if !reflect.DeepEqual(all, []string{"ARMING_CHECK", "BATT_MONITOR", "RTL_ALT", "SERIAL0_BAUD", "UNSEEN"}) {
		t.Fatalf("all: %v", all)
	}
	standard := Classify(store, staged, catalog, FilterStandard, "")
	if !reflect.DeepEqual(standard, []string{"ARMING_CHECK", "BATT_MONITOR", "RTL_ALT", "UNSEEN"}) {
		t.Fatalf("standard: %v", standard)
	}
	modified := Classify(store, staged, catalog, FilterModified, "")
	if !reflect.DeepEqual(modified, []string{"RTL_ALT", "UNSEEN"}) {
		t.Fatalf("modified: %v", modified)
	}
	if got := Classify(store, staged, catalog, FilterAll, "power"); !reflect.DeepEqual(got, []string{"BATT_MONITOR"}) {
		t.Fatalf("description search: %v", got)
	}
	if got := Classify(store, staged, catalog, FilterStandard, "baud"); len(got) != 0 {
		t.Fatalf("search must respect mode: %v", got)
	}
	if len(store) != 4 || len(staged) != 2 {
		t.Fatalf("classify mutated inputs")
	}
}

func TestClassifyWithoutCatalogTreatsEverythingStandard(t *testing.T) {
	testlog.Start(t)

	got := Classify(sampleStore(), nil, nil, FilterStandard, "")
	if len(got) != 4 {
		t.Fatalf("expected all names without metadata, got %v", got)
	}
}

func TestGroupByPrefix(t *testing.T) {
	testlog.Start(t)

	groups := GroupByPrefix([]string{"BATT_CAPACITY", "BATT_MONITOR", "RTL_ALT", "SYSID"})
	want := []Group{
		{Prefix: "BATT", Names: []string{"BATT_CAPACITY", "BATT_MONITOR"}},
		{Prefix: "RTL", Names: []string{"RTL_ALT"}},
		{Prefix: "SYSID", Names: []string{"SYSID"}},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}
