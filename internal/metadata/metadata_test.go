package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/paramctl/internal/testutil/testlog"
)

const sampleCatalog = `
[params.THR_MIN]
label = "Minimum throttle"
description = "Lowest throttle output while armed"
units = "%"
range = { min = 0.0, max = 0.3 }

[params.ARMING_CHECK]
label = "Arming checks"
access_level = "standard"
bitmask = { "0" = "All", "1" = "Barometer" }

[params.ATC_RAT_RLL_P]
label = "Roll rate P"
access_level = "advanced"

[vehicles.copter.params.ATC_RAT_RLL_P]
label = "Roll rate P (copter)"
access_level = "standard"
reboot_required = true
`

func TestParseCatalogGenericAndVehicleOverride(t *testing.T) {
	testlog.Start(t)

	generic, err := ParseCatalog([]byte(sampleCatalog), "")
	if err != nil {
		t.Fatalf("parse generic: %v", err)
	}
	if generic.IsStandard("ATC_RAT_RLL_P") {
		t.Fatalf("expected generic roll P to be advanced")
	}
	thr, ok := generic.Lookup("THR_MIN")
	if !ok || thr.Units != "%" || thr.Range == nil || thr.Range.Max != 0.3 {
		t.Fatalf("unexpected THR_MIN entry: %+v", thr)
	}
	if !thr.Range.Contains(0.1) || thr.Range.Contains(0.5) {
		t.Fatalf("unexpected range containment for %+v", thr.Range)
	}
	if generic["ARMING_CHECK"].Bitmask["1"] != "Barometer" {
		t.Fatalf("unexpected bitmask: %+v", generic["ARMING_CHECK"].Bitmask)
	}

	copter, err := ParseCatalog([]byte(sampleCatalog), "Copter")
	if err != nil {
		t.Fatalf("parse copter: %v", err)
	}
	rll := copter["ATC_RAT_RLL_P"]
	if !rll.Standard() || !rll.RebootRequired || rll.Label != "Roll rate P (copter)" {
		t.Fatalf("expected vehicle override, got %+v", rll)
	}
}

func TestCatalogNilIsStandard(t *testing.T) {
	var c Catalog
	if !c.IsStandard("ANYTHING") {
		t.Fatalf("nil catalog must classify every name as standard")
	}
	if _, ok := c.Lookup("ANYTHING"); ok {
		t.Fatalf("nil catalog lookup must miss")
	}
}

func TestFileProviderFetch(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.toml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := FileProvider{Path: path}.Fetch(context.Background(), "copter")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(cat) != 3 {
		t.Fatalf("unexpected catalog size: %d", len(cat))
	}

	if _, err := (FileProvider{}).Fetch(context.Background(), ""); !errors.Is(err, ErrNoCatalogPath) {
		t.Fatalf("expected ErrNoCatalogPath, got %v", err)
	}
	if _, err := (FileProvider{Path: filepath.Join(dir, "missing.toml")}).Fetch(context.Background(), ""); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := ParseCatalog([]byte("[params.X\n"), ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestShippedCatalogParses(t *testing.T) {
	testlog.Start(t)

	cat, err := FileProvider{Path: filepath.Join("..", "..", "configs", "catalog.toml")}.Fetch(context.Background(), "copter")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cat.IsStandard("THR_MIN") || !cat.IsStandard("RTL_ALT") {
		t.Fatalf("unexpected access levels")
	}
	if e, ok := cat.Lookup("PILOT_SPEED_UP"); !ok || e.Units != "cm/s" {
		t.Fatalf("vehicle entry missing: %+v", e)
	}
}
