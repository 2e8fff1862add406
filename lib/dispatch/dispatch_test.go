// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/overhang/lib/testutil"
)

func TestBackgroundReturnsError(t *testing.T) {
	queue := New(Config{Workers: 2})
	defer queue.StopAndWait()

	failure := errors.New("resample failed")
	task := queue.Background("update grid", func() error { return failure })
	err := task.Wait()
	if !errors.Is(err, failure) {
		t.Fatalf("Wait() = %v, want wrapped %v", err, failure)
	}

	ok := queue.Background("noop", func() error { return nil })
	if err := ok.Wait(); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}

func TestMainRunsOnlyWhenDrained(t *testing.T) {
	queue := New(Config{Workers: 4})
	defer queue.StopAndWait()

	var ran atomic.Int32
	posted := make(chan struct{})
	task := queue.Background("post", func() error {
		queue.Main(func() { ran.Add(1) })
		queue.Main(func() { ran.Add(1) })
		close(posted)
		return nil
	})
	testutil.RequireClosed(t, posted, 5*time.Second, "background job posting to main")
	if err := task.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := ran.Load(); got != 0 {
		t.Fatalf("%d main callbacks ran before DrainMain", got)
	}
	if got := queue.DrainMain(); got != 2 {
		t.Errorf("DrainMain() = %d, want 2", got)
	}
	if got := queue.DrainMain(); got != 0 {
		t.Errorf("second DrainMain() = %d, want 0", got)
	}
}

func TestWaitMain(t *testing.T) {
	queue := New(Config{Workers: 1})
	defer queue.StopAndWait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := false
	queue.Background("finish", func() error {
		queue.Main(func() { done = true })
		return nil
	})
	if _, err := queue.WaitMain(ctx); err != nil {
		t.Fatalf("WaitMain: %v", err)
	}
	if !done {
		t.Error("WaitMain returned without running the callback")
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if _, err := queue.WaitMain(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitMain on cancelled context = %v", err)
	}
}

func TestBackgroundBlocksUntilReleased(t *testing.T) {
	queue := New(Config{Workers: 1})
	defer queue.StopAndWait()

	gate := make(chan int)
	finished := make(chan struct{})
	got := 0
	task := queue.Background("gated", func() error {
		value := <-gate
		queue.Main(func() { got = value })
		close(finished)
		return nil
	})
	testutil.RequireNoReceive(t, finished, 50*time.Millisecond, "job finished before the gate opened")
	testutil.RequireSend(t, gate, 7, 5*time.Second, "opening the gate")
	if err := task.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	queue.DrainMain()
	if got != 7 {
		t.Errorf("main callback saw %d, want 7", got)
	}
}
