package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsPipe dials a test server and hands back both ends of one upgraded
// connection.
func wsPipe(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	server = <-serverConns
	t.Cleanup(func() { server.Close() })
	return client, server
}

func TestReadPumpDeliversFramesAndReportsClose(t *testing.T) {
	client, server := wsPipe(t)

	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readPump(server, msgs, readErr, done)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case data := <-msgs:
		if string(data) != `{"action":"ping"}` {
			t.Errorf("frame = %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}

	client.Close()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("expected msgs to close after the peer went away")
		}
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after the peer went away")
	}
	select {
	case <-readErr:
	default:
		t.Error("expected a read error to be reported")
	}
}

// The session loop can return while a frame is mid-flight. The pump must not
// stay blocked on the undelivered send after that.
func TestReadPumpStopsWhenSessionEnds(t *testing.T) {
	client, server := wsPipe(t)

	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	go readPump(server, msgs, readErr, done)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"action":"answer"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Nobody receives from msgs, so the pump ends up parked on the send.
	time.Sleep(50 * time.Millisecond)
	close(done)
	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("pump delivered a frame after the session ended")
		}
	case <-time.After(time.Second):
		t.Fatal("pump still running after the session ended")
	}
}
