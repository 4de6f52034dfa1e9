// README: Hub registry tests without real connections.
package gateway

import (
	"context"
	"sync"
	"testing"

	"carpool/internal/types"
)

type fakePresence struct {
	online  []types.ID
	offline []types.ID
}

func (f *fakePresence) MarkOnline(_ context.Context, id types.ID) error {
	f.online = append(f.online, id)
	return nil
}

func (f *fakePresence) MarkOffline(_ context.Context, id types.ID) error {
	f.offline = append(f.offline, id)
	return nil
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestPushReachesRegisteredClient(t *testing.T) {
	hub := NewHub(nil, nil)
	c := NewClient(hub, nil, "p1", types.RolePassenger)
	hub.Register(c)

	if !hub.Push("p1", []byte("hello")) {
		t.Fatal("push to registered client failed")
	}
	if hub.Push("nobody", []byte("hello")) {
		t.Fatal("push to unknown user succeeded")
	}
	msgs := drain(c)
	if len(msgs) != 1 || string(msgs[0]) != "hello" {
		t.Fatalf("client received %d messages", len(msgs))
	}
}

func TestLastConnectWins(t *testing.T) {
	presence := &fakePresence{}
	hub := NewHub(presence, nil)

	first := NewClient(hub, nil, "d1", types.RoleDriver)
	hub.Register(first)
	hub.Join("drivers", first)

	second := NewClient(hub, nil, "d1", types.RoleDriver)
	hub.Register(second)

	// the replaced connection's queue is closed
	if _, open := <-first.send; open {
		t.Fatal("old client send channel still open")
	}
	if !hub.Push("d1", []byte("msg")) {
		t.Fatal("push after replacement failed")
	}
	if len(drain(second)) != 1 {
		t.Fatal("replacement client did not receive the push")
	}
	// group membership follows the replacement
	delivered := hub.PushGroup("drivers", []byte("pool"))
	if len(delivered) != 1 || delivered[0] != "d1" {
		t.Fatalf("group delivery %v", delivered)
	}
	if len(drain(second)) != 1 {
		t.Fatal("replacement client missed the group push")
	}

	// the stale connection's unregister must not evict the new one
	hub.Unregister(first)
	if !hub.Connected("d1") {
		t.Fatal("stale unregister evicted the live connection")
	}
	hub.Unregister(second)
	if hub.Connected("d1") {
		t.Fatal("client still connected after unregister")
	}

	if len(presence.online) != 2 || len(presence.offline) != 1 {
		t.Fatalf("presence calls: %d online, %d offline", len(presence.online), len(presence.offline))
	}
}

func TestPushAfterDisconnectIsDropped(t *testing.T) {
	hub := NewHub(nil, nil)
	c := NewClient(hub, nil, "p1", types.RolePassenger)
	hub.Register(c)

	// a push can observe the client pointer just before its read loop tears
	// the connection down; the send must degrade to a drop, never panic
	hub.Unregister(c)
	c.closeSend()
	if c.trySend([]byte("late")) {
		t.Fatal("send after disconnect reported delivery")
	}
	if hub.Push("p1", []byte("late")) {
		t.Fatal("push after unregister reported delivery")
	}
}

func TestConcurrentPushAndDisconnect(t *testing.T) {
	hub := NewHub(nil, nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		c := NewClient(hub, nil, "d1", types.RoleDriver)
		hub.Register(c)
		hub.Join("drivers", c)

		wg.Add(2)
		go func(c *Client) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.Push("d1", []byte("msg"))
				hub.PushGroup("drivers", []byte("pool"))
			}
		}(c)
		go func(c *Client) {
			defer wg.Done()
			hub.Unregister(c)
			c.closeSend()
		}(c)
		wg.Wait()
	}
}

func TestGroupPushSkipsSlowClients(t *testing.T) {
	hub := NewHub(nil, nil)

	fast := NewClient(hub, nil, "d1", types.RoleDriver)
	slow := NewClient(hub, nil, "d2", types.RoleDriver)
	hub.Register(fast)
	hub.Register(slow)
	hub.Join("drivers", fast)
	hub.Join("drivers", slow)

	// fill the slow client's buffer
	for i := 0; i < sendBuffer; i++ {
		if !slow.trySend([]byte("x")) {
			t.Fatal("buffer filled early")
		}
	}

	delivered := hub.PushGroup("drivers", []byte("order"))
	if len(delivered) != 1 || delivered[0] != "d1" {
		t.Fatalf("delivered to %v, want only d1", delivered)
	}
}
