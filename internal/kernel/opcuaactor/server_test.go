package opcuaactor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/besok/parallax/internal/kernel/actor"
	"github.com/besok/parallax/internal/kernel/kernerr"
)

func newSink(t *testing.T) *kernerr.Sink {
	t.Helper()
	sink := kernerr.NewSink(zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sink.Close(ctx)
	})
	return sink
}

func TestAddressSpace_ParentMustExistBeforeChild(t *testing.T) {
	as := NewAddressSpace()
	if err := as.AddNode(Node{NodeID: "ns=1;s=child", ParentID: "ns=1;s=root", Kind: KindObject}); err == nil {
		t.Fatal("expected error inserting a child before its parent")
	}
	if err := as.AddNode(Node{NodeID: "ns=1;s=root", Kind: KindFolder}); err != nil {
		t.Fatalf("unexpected error inserting root: %v", err)
	}
	if err := as.AddNode(Node{NodeID: "ns=1;s=child", ParentID: "ns=1;s=root", Kind: KindVariable, Writable: true}); err != nil {
		t.Fatalf("unexpected error inserting child after parent: %v", err)
	}
	if as.Len() != 2 {
		t.Fatalf("expected 2 nodes, got %d", as.Len())
	}
}

func TestAddressSpace_UpdateValueRequiresWritable(t *testing.T) {
	as := NewAddressSpace()
	_ = as.AddNode(Node{NodeID: "ns=1;s=readonly", Kind: KindVariable, Writable: false})

	if err := as.UpdateValue("ns=1;s=readonly", 42); err == nil {
		t.Fatal("expected error writing to a non-writable node")
	}
	if err := as.UpdateValue("ns=1;s=missing", 42); err == nil {
		t.Fatal("expected error writing to an absent node")
	}

	_ = as.AddNode(Node{NodeID: "ns=1;s=writable", Kind: KindVariable, Writable: true})
	if err := as.UpdateValue("ns=1;s=writable", 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := as.Value("ns=1;s=writable")
	if !ok || v != 42 {
		t.Fatalf("expected value 42, got %v (ok=%v)", v, ok)
	}
}

func TestValidateNamespaces(t *testing.T) {
	cases := []struct {
		name    string
		cfgs    []NamespaceConfig
		wantErr bool
	}{
		{"empty ok", nil, false},
		{"ascending ok", []NamespaceConfig{{Index: 1, URI: "urn:a"}, {Index: 2, URI: "urn:b"}}, false},
		{"index zero rejected", []NamespaceConfig{{Index: 0, URI: "urn:a"}}, true},
		{"empty uri rejected", []NamespaceConfig{{Index: 1, URI: ""}}, true},
		{"non-ascending rejected", []NamespaceConfig{{Index: 2, URI: "urn:a"}, {Index: 1, URI: "urn:b"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateNamespaces(tc.cfgs)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateNamespaces(%v) error = %v, wantErr %v", tc.cfgs, err, tc.wantErr)
			}
		})
	}
}

type fakeUAServer struct {
	registered map[string]uint16
	startErr   error
	started    chan struct{}
}

func (f *fakeUAServer) Start(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return nil
}
func (f *fakeUAServer) Close() error { return nil }
func (f *fakeUAServer) RegisterNamespace(uri string) (uint16, error) {
	return f.registered[uri], nil
}

func TestServer_NamespaceMismatchFailsStartup(t *testing.T) {
	fake := &fakeUAServer{registered: map[string]uint16{"urn:a": 5}, started: make(chan struct{})}

	s := New("opcua-1", Config{
		Host:       "127.0.0.1",
		Port:       4840,
		Namespaces: []NamespaceConfig{{Index: 1, URI: "urn:a"}},
	}, newSink(t), zap.NewNop())
	s.newServer = func(string, int) uaServer { return fake }

	_, err := actor.Spawn(context.Background(), s, newSink(t))
	if err == nil {
		t.Fatal("expected spawn to fail on namespace mismatch")
	}
}

func TestServer_StartsAndUpdatesValue(t *testing.T) {
	fake := &fakeUAServer{registered: map[string]uint16{"urn:a": 1}, started: make(chan struct{})}

	as := NewAddressSpace()
	_ = as.AddNode(Node{NodeID: "ns=1;s=root", Kind: KindFolder})
	_ = as.AddNode(Node{NodeID: "ns=1;s=temp", ParentID: "ns=1;s=root", Kind: KindVariable, Writable: true})

	s := New("opcua-2", Config{
		Host:         "127.0.0.1",
		Port:         4840,
		Namespaces:   []NamespaceConfig{{Index: 1, URI: "urn:a"}},
		AddressSpace: as,
	}, newSink(t), zap.NewNop())
	s.newServer = func(string, int) uaServer { return fake }

	h, err := actor.Spawn(context.Background(), s, newSink(t))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer func() {
		h.Stop()
		<-h.Done()
	}()

	select {
	case <-fake.started:
	case <-time.After(time.Second):
		t.Fatal("server loop never started")
	}

	if err := s.UpdateValue("ns=1;s=temp", 72.5); err != nil {
		t.Fatalf("UpdateValue failed: %v", err)
	}
	v, _ := as.Value("ns=1;s=temp")
	if v != 72.5 {
		t.Fatalf("expected 72.5, got %v", v)
	}

	if ok := h.Send(context.Background(), UpdateValueMsg{NodeID: "ns=1;s=temp", Value: 90.0}); !ok {
		t.Fatal("expected UpdateValueMsg to be accepted")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got, _ := as.Value("ns=1;s=temp"); got == 90.0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected UpdateValueMsg sent through the mailbox to update the address space")
}

func TestServer_UpdateValueMsgFailureDoesNotStallActor(t *testing.T) {
	fake := &fakeUAServer{registered: map[string]uint16{"urn:a": 1}, started: make(chan struct{})}

	as := NewAddressSpace()
	_ = as.AddNode(Node{NodeID: "ns=1;s=readonly", Kind: KindVariable, Writable: false})

	sink := newSink(t)
	s := New("opcua-3", Config{
		Host:         "127.0.0.1",
		Port:         4840,
		Namespaces:   []NamespaceConfig{{Index: 1, URI: "urn:a"}},
		AddressSpace: as,
	}, sink, zap.NewNop())
	s.newServer = func(string, int) uaServer { return fake }

	h, err := actor.Spawn(context.Background(), s, sink)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	defer func() {
		h.Stop()
		<-h.Done()
	}()

	select {
	case <-fake.started:
	case <-time.After(time.Second):
		t.Fatal("server loop never started")
	}

	if ok := h.Send(context.Background(), UpdateValueMsg{NodeID: "ns=1;s=readonly", Value: 1}); !ok {
		t.Fatal("expected UpdateValueMsg to be accepted")
	}

	// A non-writable node update must fail inside Process and be
	// reported to the sink as a Runtime error (spec.md §4.8: updates
	// "fail with Runtime"), not panic or silently vanish. There's no
	// direct sink-drain hook here; the regression this guards against
	// is a panic or deadlock in Process's error path, which the
	// deferred h.Stop()/h.Done() above would otherwise hang on.
	time.Sleep(50 * time.Millisecond)
}
