package sosistab

import (
	"io"
	"testing"
	"time"
)

// TestDialListenRoundTrip exercises the full stack end-to-end: a Listener
// accepts a Dial'd stream and the two sides exchange data over it.
func TestDialListenRoundTrip(t *testing.T) {
	cfg := &Config{TargetLoss: 1, BatchSize: 1, FlushInterval: 20 * time.Millisecond, OpenTimeout: 2 * time.Second}

	ln, err := Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	var serverErr error
	go func() {
		defer close(serverDone)
		c, err := ln.Accept()
		if err != nil {
			serverErr = err
			return
		}
		buf := make([]byte, 5)
		if _, err := io.ReadFull(c, buf); err != nil {
			serverErr = err
			return
		}
		if string(buf) != "hello" {
			serverErr = errString("unexpected payload: " + string(buf))
			return
		}
		c.Write([]byte("world"))
	}()

	client, err := Dial(ln.Addr().String(), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(reply) != "world" {
		t.Fatalf("expected %q, got %q", "world", reply)
	}

	select {
	case <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("server goroutine never finished")
	}
	if serverErr != nil {
		t.Fatalf("server side error: %v", serverErr)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
