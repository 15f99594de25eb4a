package collective

import (
	"testing"

	"github.com/ctessum/sparse"
)

func TestRPCWorkerBroadcastRoundTrip(t *testing.T) {
	w := NewRPCWorker(1)
	buf := sparse.ZerosDense(1, 3)
	buf.Set(1, 0, 0)
	buf.Set(2, 0, 1)
	buf.Set(3, 0, 2)
	if err := w.PushBroadcast(&BroadcastArgs{Shape: buf.Shape, Data: buf.Elements}, &Empty{}); err != nil {
		t.Fatalf("PushBroadcast: %v", err)
	}
	var reply BroadcastArgs
	if err := w.PullBroadcast(&Empty{}, &reply); err != nil {
		t.Fatalf("PullBroadcast: %v", err)
	}
	if len(reply.Data) != 3 || reply.Data[0] != 1 || reply.Data[2] != 3 {
		t.Errorf("got %v, want [1 2 3]", reply.Data)
	}
}

func TestRPCWorkerPullBroadcastBeforePushFails(t *testing.T) {
	w := NewRPCWorker(1)
	var reply BroadcastArgs
	if err := w.PullBroadcast(&Empty{}, &reply); err == nil {
		t.Error("expected error pulling before any push")
	}
}

func TestRPCWorkerBytesRoundTrip(t *testing.T) {
	w := NewRPCWorker(1)
	if err := w.PushBytes(&BytesArgs{Data: []byte("config-hash")}, &Empty{}); err != nil {
		t.Fatalf("PushBytes: %v", err)
	}
	var reply BytesArgs
	if err := w.PullBytes(&Empty{}, &reply); err != nil {
		t.Fatalf("PullBytes: %v", err)
	}
	if string(reply.Data) != "config-hash" {
		t.Errorf("got %q, want %q", reply.Data, "config-hash")
	}
}

func TestRPCWorkerA2AAccumulatesAndDrains(t *testing.T) {
	w := NewRPCWorker(2)
	if err := w.PushA2A(&A2AArgs{Row: []int32{1}, Col: []int32{2}, Vol: []float64{0.5}, Tau: []float64{10}}, &Empty{}); err != nil {
		t.Fatalf("PushA2A first: %v", err)
	}
	if err := w.PushA2A(&A2AArgs{Row: []int32{3}, Col: []int32{4}, Vol: []float64{0.25}, Tau: []float64{5}}, &Empty{}); err != nil {
		t.Fatalf("PushA2A second: %v", err)
	}
	var reply A2AArgs
	if err := w.PullA2A(&Empty{}, &reply); err != nil {
		t.Fatalf("PullA2A: %v", err)
	}
	if len(reply.Row) != 2 {
		t.Fatalf("got %d particles, want 2", len(reply.Row))
	}

	// A second pull after a drain returns nothing: the buffer resets each
	// exchange, exactly as the all-to-all protocol requires per step.
	var second A2AArgs
	if err := w.PullA2A(&Empty{}, &second); err != nil {
		t.Fatalf("PullA2A drained: %v", err)
	}
	if len(second.Row) != 0 {
		t.Errorf("expected drained buffer, got %d rows", len(second.Row))
	}
}

func TestRPCWorkerAbortStoresPayload(t *testing.T) {
	w := NewRPCWorker(1)
	if err := w.Abort(&BytesArgs{Data: []byte("group abort from rank 0")}, &Empty{}); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if string(w.abortBuf) != "group abort from rank 0" {
		t.Errorf("abortBuf = %q", w.abortBuf)
	}
}

func TestRPCWorkerPingAlwaysSucceeds(t *testing.T) {
	w := NewRPCWorker(0)
	if err := w.Ping(&Empty{}, &Empty{}); err != nil {
		t.Errorf("Ping returned error: %v", err)
	}
}
