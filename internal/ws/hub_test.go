package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a := &Client{ID: "a", Send: make(chan []byte, 4), Hub: hub}
	b := &Client{ID: "b", Send: make(chan []byte, 4), Hub: hub}
	hub.Register(a)
	hub.Register(b)

	hub.BroadcastDeviceStatus("connected", "5511987654321@s.whatsapp.net")

	for _, c := range []*Client{a, b} {
		select {
		case data := <-c.Send:
			var msg struct {
				Event string            `json:"event"`
				Data  map[string]string `json:"data"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatal(err)
			}
			if msg.Event != EventDeviceStatus || msg.Data["status"] != "connected" {
				t.Errorf("client %s got unexpected message %s", c.ID, data)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s received nothing", c.ID)
		}
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := &Client{ID: "c", Send: make(chan []byte, 1), Hub: hub}
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.GetClientCount())
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(EventCommandProcessed, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked without a running hub")
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.GetClientCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClient_PingAnsweredWithPong(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := &Client{ID: "p", Send: make(chan []byte, 1), Hub: hub}
	hub.Register(c)
	waitForClients(t, hub, 1)

	c.handleMessage(&Message{Event: "ping"})
	select {
	case data := <-c.Send:
		if string(data) != `{"event":"pong"}` {
			t.Errorf("unexpected reply %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no pong")
	}
}

func TestClient_PingAfterCloseDoesNotPanic(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	unregistered := &Client{ID: "u", Send: make(chan []byte, 1), Hub: hub}
	stopped := &Client{ID: "s", Send: make(chan []byte, 1), Hub: hub}
	hub.Register(unregistered)
	hub.Register(stopped)
	waitForClients(t, hub, 2)

	hub.Unregister(unregistered)
	waitForClients(t, hub, 1)
	hub.Stop()
	waitForClients(t, hub, 0)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("late ping panicked: %v", r)
		}
	}()
	unregistered.handleMessage(&Message{Event: "ping"})
	stopped.handleMessage(&Message{Event: "ping"})
}
