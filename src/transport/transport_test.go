package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

func TestPipeRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var got []string
	closed := make(chan error, 1)

	p := NewPipe(Callbacks{
		OnLine: func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		},
		OnClosed: func(reason error) { closed <- reason },
	})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}

	// Far side echoes every line with a prefix.
	go func() {
		scanner := bufio.NewScanner(p.FarReader())
		w := p.FarWriter()
		for scanner.Scan() {
			fmt.Fprintf(w, "echo:%s\n", scanner.Text())
		}
	}()

	for i := 0; i < 3; i++ {
		if err := p.Send(fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, received %d lines", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "echo:msg-0" || got[2] != "echo:msg-2" {
		t.Fatalf("unexpected lines: %v", got)
	}
}

func TestPipeSendAfterStop(t *testing.T) {
	p := NewPipe(Callbacks{})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.Send("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestPipeFarCloseFiresClosedOnce(t *testing.T) {
	closed := make(chan error, 2)
	p := NewPipe(Callbacks{OnClosed: func(reason error) { closed <- reason }})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	p.CloseFar(io.ErrUnexpectedEOF)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("closed event not delivered")
	}
	// Stop after a remote close must not fire the event a second time.
	_ = p.Stop()
	select {
	case err := <-closed:
		t.Fatalf("closed fired twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInProcessSendForbidden(t *testing.T) {
	var tr InProcess
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Send("anything"); !errors.Is(err, ErrSendUnsupported) {
		t.Fatalf("want ErrSendUnsupported, got %v", err)
	}
}

func TestStdioRequiresCommand(t *testing.T) {
	if _, err := NewStdio(StdioConfig{}, Callbacks{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestWebSocketRequiresURL(t *testing.T) {
	if _, err := NewWebSocket(WebSocketConfig{}, Callbacks{}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestStartIdempotent(t *testing.T) {
	p := NewPipe(Callbacks{})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	_ = p.Stop()
}
