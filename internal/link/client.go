// Package link connects the engine to a remote parameter server over the
// framed TCP protocol and keeps that connection alive.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/paramctl/internal/device"
	"github.com/danmuck/paramctl/internal/logging"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/danmuck/paramctl/internal/protocol/frame"
	"github.com/danmuck/paramctl/internal/protocol/paramwire"
	"github.com/danmuck/paramctl/internal/protocol/schema"
)

var (
	ErrClosed       = errors.New("link: client closed")
	ErrAddrRequired = errors.New("link: addr required")
	ErrShortList    = errors.New("link: parameter list incomplete")
)

// Handlers receive traffic that is not a reply to a call.
type Handlers struct {
	OnPush     func(params.Param)
	OnProgress device.ProgressFunc
}

type pendingCall struct {
	frames chan frame.Frame
	done   chan struct{}
}

// Client is one live connection. It implements device.Device; once the
// connection drops every call fails with device.ErrNotConnected.
type Client struct {
	cfg      Config
	conn     net.Conn
	wire     *paramwire.Conn
	handlers Handlers
	nextID   atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall

	closed     chan struct{}
	closeOnce  sync.Once
	cause      error
	readerDone chan struct{}
}

var _ device.Device = (*Client)(nil)

// Dial opens one connection to cfg.Addr.
func Dial(ctx context.Context, cfg Config, h Handlers) (*Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, ErrAddrRequired
	}
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		conn:       conn,
		wire:       paramwire.NewConn(conn, cfg.Limits),
		handlers:   h,
		pending:    make(map[uint64]*pendingCall),
		closed:     make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	logging.Infof("link.Client connected addr=%q", addr)
	return c, nil
}

// Done is closed when the connection has dropped or been closed.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err reports why the connection ended, or nil while it is live.
func (c *Client) Err() error {
	select {
	case <-c.closed:
		return c.cause
	default:
		return nil
	}
}

// Close drops the connection and waits for the reader to exit.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	<-c.readerDone
	return nil
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		f, err := c.wire.Receive()
		if err != nil {
			c.shutdown(err)
			logging.Infof("link.Client reader stopped err=%v", err)
			return
		}
		if f.Header.MessageID == 0 {
			c.handlePush(f)
			continue
		}
		c.deliver(f)
	}
}

func (c *Client) handlePush(f frame.Frame) {
	if f.Header.MessageType != schema.MsgParamValue {
		logging.Debugf("link.Client ignored push message_type=%d", f.Header.MessageType)
		return
	}
	v, err := paramwire.DecodeValue(f)
	if err != nil {
		logging.Warnf("link.Client bad push err=%v", err)
		return
	}
	if c.handlers.OnPush != nil {
		c.handlers.OnPush(v.Param)
	}
}

func (c *Client) deliver(f frame.Frame) {
	c.mu.Lock()
	call, ok := c.pending[f.Header.MessageID]
	c.mu.Unlock()
	if !ok {
		logging.Debugf("link.Client dropped reply message_id=%d", f.Header.MessageID)
		return
	}
	select {
	case call.frames <- f:
	case <-call.done:
	case <-c.closed:
	}
}

func (c *Client) notConnected() error {
	cause := c.cause
	if cause == nil {
		cause = ErrClosed
	}
	return fmt.Errorf("%w: %v", device.ErrNotConnected, cause)
}

// call registers a reply slot, sends f, and returns the slot. The caller
// must release it.
func (c *Client) call(f frame.Frame) (uint64, *pendingCall, error) {
	select {
	case <-c.closed:
		return 0, nil, c.notConnected()
	default:
	}
	id := c.nextID.Add(1)
	f.Header.MessageID = id
	call := &pendingCall{frames: make(chan frame.Frame, 16), done: make(chan struct{})}

	c.mu.Lock()
	c.pending[id] = call
	c.mu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.wire.Send(f); err != nil {
		c.release(id, call)
		c.shutdown(err)
		return 0, nil, c.notConnected()
	}
	return id, call, nil
}

func (c *Client) release(id uint64, call *pendingCall) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	close(call.done)
}

func (c *Client) await(ctx context.Context, call *pendingCall) (frame.Frame, error) {
	select {
	case f := <-call.frames:
		if f.IsError() {
			remote, err := paramwire.DecodeError(f)
			if err != nil {
				return frame.Frame{}, err
			}
			return frame.Frame{}, remote
		}
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	case <-c.closed:
		return frame.Frame{}, c.notConnected()
	}
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// DownloadAll requests the full list and collects values until the end
// marker arrives. Progress is reported per received value.
func (c *Client) DownloadAll(ctx context.Context) (params.Snapshot, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	id, call, err := c.call(paramwire.RequestList(0))
	if err != nil {
		return nil, err
	}
	defer c.release(id, call)

	snap := make(params.Snapshot)
	for {
		f, err := c.await(ctx, call)
		if err != nil {
			return nil, err
		}
		switch f.Header.MessageType {
		case schema.MsgParamValue:
			v, err := paramwire.DecodeValue(f)
			if err != nil {
				return nil, err
			}
			snap[v.Param.Name] = v.Param
			if c.handlers.OnProgress != nil {
				c.handlers.OnProgress(params.Progress{Received: len(snap), Expected: int(v.Count)})
			}
		case schema.MsgParamListEnd:
			count, err := paramwire.DecodeListEnd(f)
			if err != nil {
				return nil, err
			}
			if int(count) != len(snap) {
				return nil, fmt.Errorf("%w: got %d of %d", ErrShortList, len(snap), count)
			}
			logging.Debugf("link.Client.DownloadAll count=%d", count)
			return snap, nil
		default:
			return nil, fmt.Errorf("%w: %d", paramwire.ErrUnexpectedMessage, f.Header.MessageType)
		}
	}
}

func (c *Client) WriteOne(ctx context.Context, name string, value float64) (params.Param, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	id, call, err := c.call(paramwire.Set(0, params.Entry{Name: name, Value: value}))
	if err != nil {
		return params.Param{}, err
	}
	defer c.release(id, call)

	f, err := c.await(ctx, call)
	if err != nil {
		return params.Param{}, err
	}
	v, err := paramwire.DecodeValue(f)
	if err != nil {
		return params.Param{}, err
	}
	return v.Param, nil
}

func (c *Client) WriteBatch(ctx context.Context, entries []params.Entry) ([]params.WriteResult, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	id, call, err := c.call(paramwire.BatchSet(0, entries))
	if err != nil {
		return nil, err
	}
	defer c.release(id, call)

	f, err := c.await(ctx, call)
	if err != nil {
		return nil, err
	}
	return paramwire.DecodeBatchResult(f)
}
