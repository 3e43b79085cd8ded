package core

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherRunsPostedTasks(t *testing.T) {
	d := NewDispatcher(64, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	if err := d.Post(Task{Tag: "t", Priority: PriorityNormal, Run: func() { close(done) }}); err != nil {
		t.Fatalf("post: %v", err)
	}

	go d.Run(ctx)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	d.Stop()
}

func TestDispatcherPriorityOrdering(t *testing.T) {
	d := NewDispatcher(64, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	resultCh := make(chan struct{})
	d.Post(Task{Tag: "low", Priority: PriorityLow, Run: func() {
		order = append(order, "low")
		close(resultCh)
	}})
	d.Post(Task{Tag: "crit", Priority: PriorityCritical, Run: func() {
		order = append(order, "crit")
	}})

	go d.Run(ctx)
	select {
	case <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("tasks never ran")
	}
	d.Stop()

	if len(order) != 2 || order[0] != "crit" || order[1] != "low" {
		t.Fatalf("want [crit low], got %v", order)
	}
}

func TestDispatcherTagFilterDropsTasks(t *testing.T) {
	d := NewDispatcher(64, time.Millisecond, nil)
	d.SetTagFilter([]string{"allowed"})

	ran := false
	if err := d.Post(Task{Tag: "blocked", Priority: PriorityNormal, Run: func() { ran = true }}); err != nil {
		t.Fatalf("post: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	if ran {
		t.Fatal("filtered tag should not have run")
	}
}

func TestDispatcherPostDelayed(t *testing.T) {
	d := NewDispatcher(64, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	d.PostDelayed(Task{Tag: "t", Priority: PriorityNormal, Run: func() { close(done) }}, 20*time.Millisecond)

	go d.Run(ctx)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed task never ran")
	}
	d.Stop()
}
