package connectivity

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSetPublishesOnlyTransitions verifies repeated states are absorbed.
func TestSetPublishesOnlyTransitions(t *testing.T) {
	m := NewMonitor(false)
	events, cancel := m.Subscribe(4)
	defer cancel()

	assert.False(t, m.Set(false, "test"))
	assert.True(t, m.Set(true, "test"))
	assert.False(t, m.Set(true, "test"))
	assert.True(t, m.Online())

	select {
	case ev := <-events:
		assert.True(t, ev.Online)
		assert.Equal(t, "test", ev.Source)
	default:
		t.Fatal("expected one event")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

// TestConcurrentSetKeepsOrder verifies events from racing writers arrive
// in the order the state changed: each one flips the previous and the last
// one matches the final state.
func TestConcurrentSetKeepsOrder(t *testing.T) {
	m := NewMonitor(false)
	events, cancel := m.Subscribe(1000)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.Set((i+j)%2 == 0, "test")
			}
		}(i)
	}
	wg.Wait()

	last := false
	count := 0
	for len(events) > 0 {
		ev := <-events
		assert.NotEqual(t, last, ev.Online, "event %d repeats the previous state", count)
		last = ev.Online
		count++
	}
	assert.Equal(t, m.Online(), last)
}

func TestUnsubscribe(t *testing.T) {
	m := NewMonitor(true)
	events, cancel := m.Subscribe(1)
	cancel()
	cancel()
	m.Set(false, "test")
	select {
	case <-events:
		t.Fatal("unsubscribed channel received an event")
	default:
	}
}

// TestFullSubscriberDoesNotBlock verifies Set never blocks on a slow reader.
func TestFullSubscriberDoesNotBlock(t *testing.T) {
	m := NewMonitor(false)
	_, cancel := m.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Set(i%2 == 0, "test")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on a full subscriber")
	}
}

func TestParseSignal(t *testing.T) {
	for in, want := range map[string]bool{"online\n": true, " 1 ": true, "OFFLINE": false, "down": false} {
		got, ok := ParseSignal(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseSignal("maybe")
	assert.False(t, ok)
}

// TestSignalFileDrivesMonitor verifies writes to the signal file flip state.
func TestSignalFileDrivesMonitor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectivity")
	require.NoError(t, os.WriteFile(path, []byte("online"), 0o644))

	m := NewMonitor(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewSignalFile(m, path).Run(ctx) }()

	require.Eventually(t, m.Online, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("offline"), 0o644))
	require.Eventually(t, func() bool { return !m.Online() }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestSignalFileRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connectivity")
	m := NewMonitor(true)
	sf := NewSignalFile(m, path)

	sf.Refresh()
	assert.True(t, m.Online(), "missing file leaves state alone")

	require.NoError(t, os.WriteFile(path, []byte("down\n"), 0o644))
	sf.Refresh()
	assert.False(t, m.Online())

	require.NoError(t, os.WriteFile(path, []byte("maybe"), 0o644))
	sf.Refresh()
	assert.False(t, m.Online())
}

func TestPollerAndDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	m := NewMonitor(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewPoller(m, "dial", DialProbe(ln.Addr().String(), time.Second), 20*time.Millisecond).Run(ctx)
	require.Eventually(t, m.Online, 2*time.Second, 10*time.Millisecond)

	ln.Close()
	require.Eventually(t, func() bool { return !m.Online() }, 2*time.Second, 10*time.Millisecond)
}
