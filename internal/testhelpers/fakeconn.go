package testhelpers

import (
	"errors"
	"sync"
	"time"
)

// ErrFakeWrite is returned by a FakeConn configured to fail.
var ErrFakeWrite = errors.New("fake conn: write failed")

// FakeConn records frames written to it. It satisfies session.Conn.
type FakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	failing  bool
	closed   bool
	closeCnt int
}

func NewFakeConn() *FakeConn {
	return &FakeConn{}
}

// FailWrites makes every later write fail.
func (c *FakeConn) FailWrites() {
	c.mu.Lock()
	c.failing = true
	c.mu.Unlock()
}

func (c *FakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing || c.closed {
		return ErrFakeWrite
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *FakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCnt++
	return nil
}

// Frames returns a copy of every frame written so far.
func (c *FakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// FrameStrings returns Frames as strings.
func (c *FakeConn) FrameStrings() []string {
	frames := c.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}

// Reset forgets recorded frames.
func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCnt
}
