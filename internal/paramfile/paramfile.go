// Package paramfile reads and writes parameter files.
//
// Accepted line shapes:
//
//	NAME,VALUE                      (Mission Planner)
//	NAME VALUE                      (whitespace separated)
//	SYSID COMPID NAME VALUE TYPE    (QGroundControl, tab separated)
//
// Lines starting with '#' and blank lines are ignored. A repeated name keeps
// the last value.
package paramfile

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/paramctl/internal/params"
)

var (
	ErrMalformedLine = errors.New("paramfile: malformed line")
	ErrInvalidValue  = errors.New("paramfile: invalid value")
)

// Parse returns the name->value mapping described by text.
func Parse(text string) (map[string]float64, error) {
	out := make(map[string]float64)
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, rawValue, err := splitLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, lineNo, err)
		}
		v, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrInvalidValue, lineNo, rawValue)
		}
		if !params.Finite(v) {
			return nil, fmt.Errorf("%w: line %d: non-finite %q", ErrInvalidValue, lineNo, rawValue)
		}
		out[name] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func splitLine(line string) (string, string, error) {
	var cols []string
	if strings.Contains(line, ",") {
		cols = strings.Split(line, ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
	} else {
		cols = strings.Fields(line)
	}
	switch len(cols) {
	case 2:
		return checkName(cols[0], cols[1])
	case 5:
		return checkName(cols[2], cols[3])
	default:
		return "", "", fmt.Errorf("expected 2 or 5 columns, got %d", len(cols))
	}
}

func checkName(name, value string) (string, string, error) {
	if name == "" {
		return "", "", errors.New("missing name")
	}
	if value == "" {
		return "", "", errors.New("missing value")
	}
	return name, value, nil
}

// Format renders a snapshot as sorted NAME,VALUE lines.
func Format(store params.Snapshot) string {
	var b strings.Builder
	for _, name := range store.Names() {
		p := store[name]
		b.WriteString(name)
		b.WriteByte(',')
		b.WriteString(p.Type.Format(p.Value))
		b.WriteByte('\n')
	}
	return b.String()
}
