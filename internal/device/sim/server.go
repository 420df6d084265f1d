package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/paramctl/internal/logging"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/danmuck/paramctl/internal/protocol/frame"
	"github.com/danmuck/paramctl/internal/protocol/paramwire"
	"github.com/danmuck/paramctl/internal/protocol/schema"
)

// Server exposes a Device over the framed parameter link. Every value change
// is pushed to all connected clients with message id zero.
type Server struct {
	dev    *Device
	limits frame.Limits

	mu     sync.Mutex
	conns  map[*paramwire.Conn]net.Conn
	active atomic.Int64
	wg     sync.WaitGroup
}

func NewServer(dev *Device) *Server {
	s := &Server{
		dev:    dev,
		limits: frame.DefaultLimits(),
		conns:  make(map[*paramwire.Conn]net.Conn),
	}
	dev.Watch(s.broadcast)
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// open connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	defer s.wg.Wait()
	logging.Infof("sim.Server listening addr=%q", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
		s.closeAll()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// ActiveClients reports the number of connected clients.
func (s *Server) ActiveClients() int64 {
	return s.active.Load()
}

// Kick drops every client connection without stopping the listener.
func (s *Server) Kick() {
	s.closeAll()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	wire := paramwire.NewConn(conn, s.limits)
	s.mu.Lock()
	s.conns[wire] = conn
	s.mu.Unlock()
	if ctx.Err() != nil {
		s.mu.Lock()
		delete(s.conns, wire)
		s.mu.Unlock()
		_ = conn.Close()
		return
	}

	remote := conn.RemoteAddr().String()
	active := s.active.Add(1)
	logging.Infof("sim.Server client connected remote=%q active_clients=%d", remote, active)
	defer func() {
		s.mu.Lock()
		delete(s.conns, wire)
		s.mu.Unlock()
		_ = conn.Close()
		remaining := s.active.Add(-1)
		logging.Infof("sim.Server client disconnected remote=%q active_clients=%d", remote, remaining)
	}()

	for {
		f, err := wire.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logging.Warnf("sim.Server read remote=%q err=%v", remote, err)
			}
			return
		}
		if err := s.handleFrame(ctx, wire, f); err != nil {
			logging.Warnf("sim.Server write remote=%q err=%v", remote, err)
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, wire *paramwire.Conn, f frame.Frame) error {
	id := f.Header.MessageID
	switch f.Header.MessageType {
	case schema.MsgParamRequestList:
		snap, err := s.dev.DownloadAll(ctx)
		if err != nil {
			return wire.Send(paramwire.ErrorFor(id, err))
		}
		names := snap.Names()
		count := uint32(len(names))
		for i, name := range names {
			v := paramwire.ParamValue{Param: snap[name], Index: uint32(i), Count: count}
			if err := wire.Send(paramwire.Value(id, frame.FlagIsResponse, v)); err != nil {
				return err
			}
		}
		return wire.Send(paramwire.ListEnd(id, count))

	case schema.MsgParamSet:
		e, err := paramwire.DecodeSet(f)
		if err != nil {
			return wire.Send(paramwire.Error(id, paramwire.CodeBadRequest, err.Error()))
		}
		p, err := s.dev.WriteOne(ctx, e.Name, e.Value)
		if err != nil {
			return wire.Send(paramwire.ErrorFor(id, err))
		}
		return wire.Send(paramwire.Value(id, frame.FlagIsResponse, paramwire.ParamValue{Param: p}))

	case schema.MsgParamBatchSet:
		entries, err := paramwire.DecodeBatchSet(f)
		if err != nil {
			return wire.Send(paramwire.Error(id, paramwire.CodeBadRequest, err.Error()))
		}
		results, err := s.dev.WriteBatch(ctx, entries)
		if err != nil {
			return wire.Send(paramwire.ErrorFor(id, err))
		}
		return wire.Send(paramwire.BatchResult(id, results))

	default:
		msg := fmt.Sprintf("unsupported message_type=%d", f.Header.MessageType)
		return wire.Send(paramwire.Error(id, paramwire.CodeBadRequest, msg))
	}
}

func (s *Server) broadcast(p params.Param) {
	s.mu.Lock()
	targets := make([]*paramwire.Conn, 0, len(s.conns))
	for wire := range s.conns {
		targets = append(targets, wire)
	}
	s.mu.Unlock()

	push := paramwire.Value(0, 0, paramwire.ParamValue{Param: p})
	for _, wire := range targets {
		if err := wire.Send(push); err != nil {
			logging.Debugf("sim.Server push name=%s err=%v", p.Name, err)
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
}
