package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/peopleworks/ason/src/protocol"
)

// captureSender records sent exec-request lines.
type captureSender struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSender) send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	return nil
}

func (c *captureSender) ids(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, line := range c.lines {
		env, err := protocol.Decode(line)
		if err != nil {
			t.Fatalf("sent line does not decode: %v", err)
		}
		ids = append(ids, env.ID)
	}
	return ids
}

func TestOutOfOrderCompletion(t *testing.T) {
	d := New()
	sender := &captureSender{}

	const workers = 8
	results := make([]any, workers)
	errs := make([]error, workers)
	started := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = d.Execute(context.Background(), fmt.Sprintf("result = %d", i), sender.send)
		}(i)
	}
	for i := 0; i < workers; i++ {
		<-started
	}
	// Wait until every request hit the wire.
	for {
		if len(sender.ids(t)) == workers {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Reply in reverse order; each caller must still get its own payload.
	// Workers reach the wire in any order, so each reply is addressed to the
	// worker named by the code its request carried.
	sender.mu.Lock()
	lines := append([]string(nil), sender.lines...)
	sender.mu.Unlock()
	for i := len(lines) - 1; i >= 0; i-- {
		env, err := protocol.Decode(lines[i])
		if err != nil {
			t.Fatalf("sent line does not decode: %v", err)
		}
		var worker int
		if _, err := fmt.Sscanf(env.Code, "result = %d", &worker); err != nil {
			t.Fatalf("unexpected code %q: %v", env.Code, err)
		}
		d.HandleResult(protocol.Envelope{
			Type:   protocol.KindExecResult,
			ID:     env.ID,
			Result: json.RawMessage(fmt.Sprintf("%d", worker*10)),
		})
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != float64(i*10) {
			t.Fatalf("worker %d: got %v", i, results[i])
		}
	}
	if d.Pending() != 0 {
		t.Fatalf("pending table not drained: %d", d.Pending())
	}
}

func TestRunnerErrorFailsSlot(t *testing.T) {
	d := New()
	sender := &captureSender{}
	done := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), "boom()", sender.send)
		done <- err
	}()
	waitForPending(t, d, 1)
	d.HandleResult(protocol.Envelope{ID: sender.ids(t)[0], Error: "name boom is not defined"})

	err := <-done
	var re *RunnerError
	if !errors.As(err, &re) || re.Message != "name boom is not defined" {
		t.Fatalf("want RunnerError, got %v", err)
	}
}

func TestTransportCloseFailsAllOnce(t *testing.T) {
	d := New()
	sender := &captureSender{}

	const workers = 5
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := d.Execute(context.Background(), "result = 1", sender.send)
			errs <- err
		}()
	}
	waitForPending(t, d, workers)
	d.FailAll(io.ErrClosedPipe)

	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrTransportClosed) {
				t.Fatalf("want ErrTransportClosed, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("worker never failed")
		}
	}
	if d.Pending() != 0 {
		t.Fatal("pending table should be empty after FailAll")
	}
}

func TestCancelledDispatchIgnoresLateResult(t *testing.T) {
	d := New()
	sender := &captureSender{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Execute(ctx, "result = 1", sender.send)
		done <- err
	}()
	waitForPending(t, d, 1)
	cancel()

	err := <-done
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	if d.Pending() != 0 {
		t.Fatal("cancelled slot still pending")
	}

	// A late exec-result for the same id finds no slot and is discarded.
	d.HandleResult(protocol.Envelope{ID: sender.ids(t)[0], Result: json.RawMessage(`42`)})
	if d.Pending() != 0 {
		t.Fatal("late result resurrected a slot")
	}
}

func TestSendFailureCleansUp(t *testing.T) {
	d := New()
	sendErr := errors.New("wire torn")
	_, err := d.Execute(context.Background(), "result = 1", func(string) error { return sendErr })
	if !errors.Is(err, sendErr) {
		t.Fatalf("want send error, got %v", err)
	}
	if d.Pending() != 0 {
		t.Fatal("failed send left a pending slot")
	}
}

func waitForPending(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for d.Pending() != n {
		select {
		case <-deadline:
			t.Fatalf("pending never reached %d (now %d)", n, d.Pending())
		case <-time.After(time.Millisecond):
		}
	}
}
