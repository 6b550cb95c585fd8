package realtime_test

import (
	"sync"
	"testing"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/realtime"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
)

var (
	alice = domain.Identity{ID: "u-alice", Name: "alice"}
	bob   = domain.Identity{ID: "u-bob", Name: "bob"}
	carol = domain.Identity{ID: "u-carol", Name: "carol"}
)

// TestRegistryMultipleConnections verifies that one identity may hold
// several connections and stays online until the last one goes.
func TestRegistryMultipleConnections(t *testing.T) {
	reg := realtime.NewRegistry()

	c1, first := reg.Register(alice, &testhelpers.RecordingSink{})
	if !first {
		t.Error("first Register did not report first connection")
	}
	c2, first := reg.Register(alice, &testhelpers.RecordingSink{})
	if first {
		t.Error("second Register reported first connection")
	}
	if c1 == c2 {
		t.Fatal("Register returned duplicate connection ids")
	}
	if n := reg.Count(alice.ID); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	if _, last, ok := reg.Unregister(c1); !ok || last {
		t.Errorf("Unregister(c1) = last %v ok %v; want false, true", last, ok)
	}
	if !reg.IsOnline(alice.ID) {
		t.Error("identity offline while a connection remains")
	}

	identity, last, ok := reg.Unregister(c2)
	if !ok || !last {
		t.Errorf("Unregister(c2) = last %v ok %v; want true, true", last, ok)
	}
	if identity != alice {
		t.Errorf("Unregister returned %+v, want %+v", identity, alice)
	}
	if reg.IsOnline(alice.ID) {
		t.Error("identity online after last connection removed")
	}
}

// TestRegistryDoubleUnregister simulates a duplicate disconnect signal.
func TestRegistryDoubleUnregister(t *testing.T) {
	reg := realtime.NewRegistry()
	c1, _ := reg.Register(alice, &testhelpers.RecordingSink{})
	reg.Register(alice, &testhelpers.RecordingSink{})

	reg.Unregister(c1)
	if _, last, ok := reg.Unregister(c1); ok || last {
		t.Errorf("second Unregister = last %v ok %v; want false, false", last, ok)
	}
	if n := reg.Count(alice.ID); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if _, _, ok := reg.Unregister("never-registered"); ok {
		t.Error("Unregister of unknown id reported ok")
	}
	if n := reg.Count(bob.ID); n != 0 {
		t.Errorf("Count for unknown identity = %d, want 0", n)
	}
}

// TestRegistryConnectionsForAndOnline checks the lookup helpers.
func TestRegistryConnectionsForAndOnline(t *testing.T) {
	reg := realtime.NewRegistry()
	a1, _ := reg.Register(alice, &testhelpers.RecordingSink{})
	a2, _ := reg.Register(alice, &testhelpers.RecordingSink{})
	b1, _ := reg.Register(bob, &testhelpers.RecordingSink{})

	conns := reg.ConnectionsFor(alice.ID)
	if len(conns) != 2 || !contains(conns, a1) || !contains(conns, a2) {
		t.Errorf("ConnectionsFor(alice) = %v, want [%s %s]", conns, a1, a2)
	}
	if owner, _, ok := reg.Lookup(b1); !ok || owner != bob {
		t.Errorf("Lookup(b1) = %+v, %v", owner, ok)
	}

	online := reg.Online()
	if len(online) != 2 {
		t.Fatalf("Online returned %d records, want 2", len(online))
	}
	if online[0].Identity != alice || online[0].Connections != 2 {
		t.Errorf("Online[0] = %+v, want alice with 2 connections", online[0])
	}
	if online[1].Identity != bob || online[1].Connections != 1 {
		t.Errorf("Online[1] = %+v, want bob with 1 connection", online[1])
	}
}

// TestRegistryConcurrentRegisterUnregister checks the identity's connection
// set survives concurrent churn.
func TestRegistryConcurrentRegisterUnregister(t *testing.T) {
	reg := realtime.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := reg.Register(alice, &testhelpers.RecordingSink{})
			reg.Unregister(id)
			reg.Unregister(id)
		}()
	}
	wg.Wait()

	if reg.IsOnline(alice.ID) {
		t.Error("identity still online after all connections removed")
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
}
