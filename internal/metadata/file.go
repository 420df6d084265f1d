package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrNoCatalogPath = errors.New("metadata: catalog path required")

// catalogFile is the on-disk shape:
//
//	[params.THR_MIN]
//	label = "Minimum throttle"
//
//	[vehicles.copter.params.ATC_RAT_RLL_P]
//	access_level = "advanced"
type catalogFile struct {
	Params   map[string]Entry       `toml:"params"`
	Vehicles map[string]vehicleFile `toml:"vehicles"`
}

type vehicleFile struct {
	Params map[string]Entry `toml:"params"`
}

// FileProvider loads a TOML catalog on every Fetch so edits on disk are
// picked up on the next connection.
type FileProvider struct {
	Path string
}

func (p FileProvider) Fetch(ctx context.Context, deviceTypeHint string) (Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(p.Path)
	if path == "" {
		return nil, ErrNoCatalogPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata load failed (%s): %w", path, err)
	}
	return ParseCatalog(data, deviceTypeHint)
}

// ParseCatalog decodes a TOML catalog and resolves it for one device type.
// Vehicle-specific entries replace generic ones of the same name.
func ParseCatalog(data []byte, deviceTypeHint string) (Catalog, error) {
	var raw catalogFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("metadata parse failed: %w", err)
	}
	out := make(Catalog, len(raw.Params))
	for name, entry := range raw.Params {
		out[strings.TrimSpace(name)] = entry
	}
	hint := strings.ToLower(strings.TrimSpace(deviceTypeHint))
	if hint == "" {
		return out, nil
	}
	for vehicle, vf := range raw.Vehicles {
		if strings.ToLower(strings.TrimSpace(vehicle)) != hint {
			continue
		}
		for name, entry := range vf.Params {
			out[strings.TrimSpace(name)] = entry
		}
	}
	return out, nil
}
