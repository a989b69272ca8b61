package chat

import (
	"reflect"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClientSendDropsNewWhenFull(t *testing.T) {
	c := NewClient("c", &fakeConn{}, ClientConf{SendQueueSize: 2})
	if !c.Send([]byte("1")) || !c.Send([]byte("2")) {
		t.Fatal("Send within capacity failed")
	}
	if c.Send([]byte("3")) {
		t.Fatal("Send on a full queue succeeded")
	}
	if c.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", c.Dropped())
	}
	if got := next(t, c); got != "1" {
		t.Fatalf("first = %q, want 1", got)
	}
}

func TestClientWritePumpOrderAndClose(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("c", conn, ClientConf{SendQueueSize: 8})
	go c.WritePump()

	for _, p := range []string{"a", "b", "c"} {
		c.Send([]byte(p))
	}
	c.Shutdown([]byte("bye"), websocket.ClosePolicyViolation, "x")

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("WritePump did not exit")
	}
	if got, want := conn.written(), []string{"a", "b", "c", "bye"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("written = %v, want %v", got, want)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed {
		t.Fatal("conn not closed")
	}
	if len(conn.controls) == 0 || conn.controls[len(conn.controls)-1] != websocket.CloseMessage {
		t.Fatalf("controls = %v, want trailing close frame", conn.controls)
	}
	if c.IsOpen() || c.Send([]byte("late")) {
		t.Fatal("closed client still accepts payloads")
	}
}

func TestClientWriteErrorStopsPump(t *testing.T) {
	conn := &fakeConn{failWrite: true}
	c := NewClient("c", conn, ClientConf{SendQueueSize: 8})
	go c.WritePump()
	c.Send([]byte("x"))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("WritePump did not exit on write error")
	}
	if c.IsOpen() {
		t.Fatal("client still open after write error")
	}
	c.Close()
}
