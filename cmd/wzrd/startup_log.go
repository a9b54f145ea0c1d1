package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// stepLog prints step-by-step progress for the render command, with a
// spinner while a child is starting.
type stepLog struct {
	w     io.Writer
	isTTY bool
	mu    sync.Mutex
}

// newStepLog creates a step logger that writes to w.
// isTTY controls whether to use animated spinners (true) or static output (false).
func newStepLog(w io.Writer, isTTY bool) *stepLog {
	return &stepLog{w: w, isTTY: isTTY}
}

// Step prints a completed step with a checkmark.
func (s *stepLog) Step(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "✓ %s\n", msg)
}

// Fail prints a failed step.
func (s *stepLog) Fail(msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "✗ %s: %v\n", msg, err)
}

// Spin shows msg with a spinner until the returned func is called with the
// outcome of the step. In non-TTY mode it prints one line per state.
func (s *stepLog) Spin(msg string) func(err error) {
	start := time.Now()
	finish := func(err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		prefix := ""
		if s.isTTY {
			prefix = "\r\033[K"
		}
		if err != nil {
			fmt.Fprintf(s.w, "%s✗ %s: %v\n", prefix, msg, err)
			return
		}
		fmt.Fprintf(s.w, "%s✓ %s (%s)\n", prefix, msg, time.Since(start).Round(100*time.Millisecond))
	}

	if !s.isTTY {
		s.mu.Lock()
		fmt.Fprintf(s.w, "%s...\n", msg)
		s.mu.Unlock()
		return finish
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)

	frames := []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i = (i + 1) % len(frames) {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.w, "\r%c %s", frames[i], msg)
				s.mu.Unlock()
			}
		}
	}()

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			cancel()
			wg.Wait()
			finish(err)
		})
	}
}
