package transport

import (
	"io"
	"sync"
)

// Pipe is an in-memory loopback transport. The near side behaves like any
// other Transport; the far side exposes the runner's view of the wire. Used
// by tests and by embedded runner harnesses.
type Pipe struct {
	cb Callbacks

	lifecycle sync.Mutex
	conn      *lineConn
	nearW     *io.PipeWriter
	farW      *io.PipeWriter
	farR      *io.PipeReader
	started   bool
}

// NewPipe creates an unstarted loopback transport.
func NewPipe(cb Callbacks) *Pipe {
	return &Pipe{cb: cb}
}

func (t *Pipe) Start() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.started {
		return nil
	}
	nearR, farW := io.Pipe()
	farR, nearW := io.Pipe()
	t.conn = newLineConn(nearW, t.cb)
	t.nearW = nearW
	t.farW = farW
	t.farR = farR
	t.started = true
	go t.conn.readLoop(nearR)
	return nil
}

func (t *Pipe) Stop() error {
	t.lifecycle.Lock()
	conn := t.conn
	nearW, farW, farR := t.nearW, t.farW, t.farR
	t.conn = nil
	t.started = false
	t.lifecycle.Unlock()

	if conn != nil {
		conn.close(ErrClosed)
	}
	if nearW != nil {
		_ = nearW.Close()
	}
	if farW != nil {
		_ = farW.Close()
	}
	if farR != nil {
		_ = farR.Close()
	}
	return nil
}

func (t *Pipe) Send(line string) error {
	t.lifecycle.Lock()
	conn := t.conn
	t.lifecycle.Unlock()
	if conn == nil {
		return ErrClosed
	}
	return conn.send(line)
}

// FarWriter returns the writer the far (runner) side uses to emit frames
// toward the orchestrator. Start must have been called.
func (t *Pipe) FarWriter() io.Writer { return t.farW }

// FarReader returns the reader carrying frames the orchestrator sent. Start
// must have been called.
func (t *Pipe) FarReader() io.Reader { return t.farR }

// CloseFar simulates the runner side going away.
func (t *Pipe) CloseFar(reason error) {
	t.lifecycle.Lock()
	farW := t.farW
	t.lifecycle.Unlock()
	if farW != nil {
		_ = farW.CloseWithError(reason)
	}
}

var _ Transport = (*Pipe)(nil)
