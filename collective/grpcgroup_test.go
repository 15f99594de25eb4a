package collective

import (
	"context"
	"testing"

	"github.com/golang/protobuf/ptypes/wrappers"

	"github.com/ctessum/sparse"
)

func TestFlowGroupServerBroadcastRoundTrip(t *testing.T) {
	s := &flowGroupServer{worker: NewRPCWorker(1)}
	buf := sparse.ZerosDense(1, 2)
	buf.Set(9, 0, 0)
	buf.Set(4, 0, 1)
	payload := encodeGob(gobBroadcast{Shape: buf.Shape, Data: buf.Elements})

	if _, err := s.pushBroadcast(context.Background(), &wrappers.BytesValue{Value: payload}); err != nil {
		t.Fatalf("pushBroadcast: %v", err)
	}
	out, err := s.pullBroadcast(context.Background(), &wrappers.BytesValue{})
	if err != nil {
		t.Fatalf("pullBroadcast: %v", err)
	}
	var got gobBroadcast
	if err := decodeGob(out.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Data[0] != 9 || got.Data[1] != 4 {
		t.Errorf("got %v, want [9 4]", got.Data)
	}
}

func TestFlowGroupServerPullBroadcastBeforePushFails(t *testing.T) {
	s := &flowGroupServer{worker: NewRPCWorker(1)}
	if _, err := s.pullBroadcast(context.Background(), &wrappers.BytesValue{}); err == nil {
		t.Error("expected error pulling before any push")
	}
}

func TestFlowGroupServerA2ARoundTrip(t *testing.T) {
	s := &flowGroupServer{worker: NewRPCWorker(2)}
	payload := encodeGob(gobA2A{Row: []int32{5}, Col: []int32{6}, Vol: []float64{0.1}, Tau: []float64{20}})
	if _, err := s.pushA2A(context.Background(), &wrappers.BytesValue{Value: payload}); err != nil {
		t.Fatalf("pushA2A: %v", err)
	}
	out, err := s.pullA2A(context.Background(), &wrappers.BytesValue{})
	if err != nil {
		t.Fatalf("pullA2A: %v", err)
	}
	var got gobA2A
	if err := decodeGob(out.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Row) != 1 || got.Row[0] != 5 {
		t.Errorf("got %v", got)
	}

	drained, err := s.pullA2A(context.Background(), &wrappers.BytesValue{})
	if err != nil {
		t.Fatalf("pullA2A drained: %v", err)
	}
	var got2 gobA2A
	if err := decodeGob(drained.Value, &got2); err != nil {
		t.Fatalf("decode drained: %v", err)
	}
	if len(got2.Row) != 0 {
		t.Errorf("expected drained buffer, got %d rows", len(got2.Row))
	}
}

func TestFlowGroupServerPushBytesAndAbort(t *testing.T) {
	s := &flowGroupServer{worker: NewRPCWorker(1)}
	if _, err := s.pushBytes(context.Background(), &wrappers.BytesValue{Value: []byte("hash-abc")}); err != nil {
		t.Fatalf("pushBytes: %v", err)
	}
	if string(s.worker.bytesBuf) != "hash-abc" {
		t.Errorf("bytesBuf = %q", s.worker.bytesBuf)
	}
	if _, err := s.abort(context.Background(), &wrappers.BytesValue{Value: []byte("boom")}); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if string(s.worker.abortBuf) != "boom" {
		t.Errorf("abortBuf = %q", s.worker.abortBuf)
	}
}

func TestFlowGroupServerPing(t *testing.T) {
	s := &flowGroupServer{worker: NewRPCWorker(0)}
	if _, err := s.ping(context.Background(), &wrappers.BytesValue{}); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestGrpcServiceDescRegistersAllMethods(t *testing.T) {
	desc := grpcServiceDesc()
	want := map[string]bool{
		"PushBroadcast": false, "PullBroadcast": false,
		"PushA2A": false, "PullA2A": false,
		"PushBytes": false, "PullBytes": false, "Abort": false, "Ping": false,
	}
	for _, m := range desc.Methods {
		if _, ok := want[m.MethodName]; !ok {
			t.Errorf("unexpected method %q", m.MethodName)
			continue
		}
		want[m.MethodName] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("method %q not registered", name)
		}
	}
}
