package async

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubPanicLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubPanicLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubPanicLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.messages))
	copy(out, l.messages)
	return out
}

func TestGoTrackedRecoversPanicAndReleasesWaitGroup(t *testing.T) {
	logger := &stubPanicLogger{}
	var wg sync.WaitGroup

	GoTracked(&wg, logger, "tick-loop", func() {
		panic("boom")
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait group was not released after panic")
	}

	messages := logger.snapshot()
	if len(messages) != 1 || !strings.Contains(messages[0], "goroutine panic [tick-loop]: boom") {
		t.Fatalf("expected panic log, got %v", messages)
	}
}

func TestRecoverHandlesNilLogger(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "", func() {
		defer close(done)
		panic("ignored")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for goroutine")
	}
}
