// Package device defines the transport-facing collaborator the engine talks to.
//
// Ownership boundary:
// - full parameter download
// - single and batch writes
//
// Connection lifecycle, retries, and timeouts belong to implementations
// (see internal/link); callers only see the outcome.
package device

import (
	"context"
	"errors"

	"github.com/danmuck/paramctl/internal/params"
)

var (
	ErrNotConnected = errors.New("device: not connected")
	ErrRejected     = errors.New("device: write rejected")
	ErrUnknownParam = errors.New("device: unknown parameter")
)

// Device is the remote parameter server.
type Device interface {
	// DownloadAll returns every parameter the device exposes.
	DownloadAll(ctx context.Context) (params.Snapshot, error)
	// WriteOne writes a single value and returns the device's confirmation.
	WriteOne(ctx context.Context, name string, value float64) (params.Param, error)
	// WriteBatch writes entries and returns at most one result per name.
	// A returned error means the batch as a whole never reached the device.
	WriteBatch(ctx context.Context, entries []params.Entry) ([]params.WriteResult, error)
}

// ProgressFunc observes a running download.
type ProgressFunc func(params.Progress)
