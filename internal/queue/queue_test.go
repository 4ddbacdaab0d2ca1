package queue

import (
	"context"
	"testing"
	"time"

	"github.com/cloakgov/cloakgov/internal/model"
)

func TestPopOrdersByPriorityThenSeq(t *testing.T) {
	q := New(10)
	q.Push(&model.AdjustmentTask{Kind: model.TaskOptimization, Priority: model.PriorityOptimization})
	q.Push(&model.AdjustmentTask{Kind: model.TaskRestore, Priority: model.PriorityRestore})
	q.Push(&model.AdjustmentTask{Kind: model.TaskMonitoring, Priority: model.PriorityMonitoring})

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	if !ok || first.Kind != model.TaskRestore {
		t.Fatalf("first pop = %+v, want TaskRestore", first)
	}
	second, ok := q.Pop(ctx)
	if !ok || second.Kind != model.TaskMonitoring {
		t.Fatalf("second pop = %+v, want TaskMonitoring", second)
	}
	third, ok := q.Pop(ctx)
	if !ok || third.Kind != model.TaskOptimization {
		t.Fatalf("third pop = %+v, want TaskOptimization", third)
	}
}

func TestPopFIFOTieBreak(t *testing.T) {
	q := New(10)
	for i := 0; i < 3; i++ {
		q.Push(&model.AdjustmentTask{Kind: model.TaskMonitoring, Priority: model.PriorityMonitoring, Function: string(rune('a' + i))})
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		task, ok := q.Pop(ctx)
		if !ok {
			t.Fatalf("pop %d: ok = false", i)
		}
		want := string(rune('a' + i))
		if task.Function != want {
			t.Errorf("pop %d = %q, want %q", i, task.Function, want)
		}
	}
}

func TestPushEvictsLowestOptimizationWhenFull(t *testing.T) {
	q := New(2)
	q.Push(&model.AdjustmentTask{Kind: model.TaskOptimization, Priority: model.PriorityOptimization, Function: "opt1"})
	q.Push(&model.AdjustmentTask{Kind: model.TaskOptimization, Priority: model.PriorityOptimization, Function: "opt2"})

	ok := q.Push(&model.AdjustmentTask{Kind: model.TaskRestore, Priority: model.PriorityRestore, Function: "restore"})
	if !ok {
		t.Fatal("push of higher-priority task was rejected instead of evicting")
	}
	if q.Len() != 2 {
		t.Fatalf("queue len = %d, want 2 after eviction", q.Len())
	}

	ctx := context.Background()
	first, _ := q.Pop(ctx)
	if first.Function != "restore" {
		t.Errorf("first pop = %q, want restore", first.Function)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result := make(chan *model.AdjustmentTask, 1)
	go func() {
		task, ok := q.Pop(ctx)
		if ok {
			result <- task
		} else {
			result <- nil
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(&model.AdjustmentTask{Kind: model.TaskMonitoring, Priority: model.PriorityMonitoring})

	select {
	case task := <-result:
		if task == nil {
			t.Fatal("Pop returned ok=false before context deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestPopReturnsFalseOnCancel(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx)
	if ok {
		t.Fatal("Pop on cancelled context returned ok=true")
	}
}
