package paramwire

import (
	"io"
	"sync"

	"github.com/danmuck/paramctl/internal/protocol/frame"
)

// Conn frames messages over a byte stream. Send is safe for concurrent use;
// Receive must be called from one goroutine.
type Conn struct {
	rw     io.ReadWriter
	limits frame.Limits
	wmu    sync.Mutex
}

func NewConn(rw io.ReadWriter, limits frame.Limits) *Conn {
	return &Conn{rw: rw, limits: limits}
}

func (c *Conn) Send(f frame.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return frame.WriteFrame(c.rw, f, c.limits)
}

func (c *Conn) Receive() (frame.Frame, error) {
	return frame.ReadFrame(c.rw, c.limits)
}
