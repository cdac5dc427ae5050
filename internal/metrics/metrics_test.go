package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if itemsPoppedTotal == nil {
		t.Fatal("expected collectors to be initialized")
	}
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(itemsPoppedTotal)
	ObservePop(5)
	if got := testutil.ToFloat64(itemsPoppedTotal); got != before+5 {
		t.Fatalf("expected items popped to rise by 5, got %v -> %v", before, got)
	}

	requeuedBefore := testutil.ToFloat64(itemsRequeuedTotal)
	deadBefore := testutil.ToFloat64(itemsDeadLetteredTotal)
	ObserveRequeue(3, 2)
	if got := testutil.ToFloat64(itemsRequeuedTotal); got != requeuedBefore+3 {
		t.Fatalf("expected requeued to rise by 3, got %v -> %v", requeuedBefore, got)
	}
	if got := testutil.ToFloat64(itemsDeadLetteredTotal); got != deadBefore+2 {
		t.Fatalf("expected dead lettered to rise by 2, got %v -> %v", deadBefore, got)
	}

	SetBufferSize(17)
	if got := testutil.ToFloat64(recordBufferSize); got != 17 {
		t.Fatalf("expected buffer gauge 17, got %v", got)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != 1 {
		t.Fatalf("expected 1 active worker, got %v", got)
	}
	DecActiveWorkers()

	okBefore := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("pop", "ok"))
	ObserveStoreOperation("pop", nil)
	if got := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("pop", "ok")); got != okBefore+1 {
		t.Fatalf("expected pop/ok to rise by 1, got %v -> %v", okBefore, got)
	}

	statusBefore := testutil.ToFloat64(flushesTotal.WithLabelValues("success"))
	ObserveFlush("success", 2, 150*time.Millisecond)
	if got := testutil.ToFloat64(flushesTotal.WithLabelValues("success")); got != statusBefore+1 {
		t.Fatalf("expected success flushes to rise by 1, got %v -> %v", statusBefore, got)
	}
}
