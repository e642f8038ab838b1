package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/pawnecta/messaging/internal/protocol"
)

// pipeConn builds a Connection over an in-memory pipe and returns the client
// end for reading server frames.
func pipeConn(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	c := &Connection{ID: "conn-1", Conn: server, CreatedAt: time.Now()}
	c.Touch()
	return c, client
}

// readServerFrame reads one text frame from the client end and decodes it
// into a generic map.
func readServerFrame(t *testing.T, client net.Conn) map[string]interface{} {
	t.Helper()
	frames := make(chan map[string]interface{}, 1)
	go func() {
		data, err := wsutil.ReadServerText(client)
		if err != nil {
			return
		}
		var m map[string]interface{}
		if json.Unmarshal(data, &m) == nil {
			frames <- m
		}
	}()

	select {
	case m := <-frames:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a server frame")
		return nil
	}
}

func TestDispatchPingAnswersPong(t *testing.T) {
	d := NewMessageDispatcher()
	conn, client := pipeConn(t)

	go d.Dispatch(conn, []byte(`{"type":"ping"}`))

	if frame := readServerFrame(t, client); frame["type"] != protocol.TypePong {
		t.Fatalf("frame type = %v, want pong", frame["type"])
	}
}

func TestDispatchRejectsUnauthenticated(t *testing.T) {
	d := NewMessageDispatcher()
	called := false
	d.Register(protocol.TypeSendMessage, func(*Connection, interface{}) { called = true })
	conn, client := pipeConn(t)

	go d.Dispatch(conn, []byte(`{"type":"send_message","conversation_id":"c1","client_ref":"temp-1","text":"hi"}`))

	frame := readServerFrame(t, client)
	if frame["type"] != protocol.TypeError {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}
	if frame["code"] != "unauthenticated" {
		t.Errorf("error code = %v, want unauthenticated", frame["code"])
	}
	if called {
		t.Error("handler ran for an unauthenticated connection")
	}
}

func TestDispatchRoutesToHandler(t *testing.T) {
	d := NewMessageDispatcher()
	conn, _ := pipeConn(t)
	cm := NewConnectionManager()
	cm.Add(conn)
	cm.Bind(conn, "alice")

	var got protocol.SendMessageMsg
	d.Register(protocol.TypeSendMessage, func(_ *Connection, msg interface{}) {
		got = msg.(protocol.SendMessageMsg)
	})

	d.Dispatch(conn, []byte(`{"type":"send_message","conversation_id":"c1","client_ref":"temp-1","text":"hola"}`))

	if got.ConversationID != "c1" || got.ClientRef != "temp-1" || got.Text != "hola" {
		t.Fatalf("handler got %+v", got)
	}
}

func TestDispatchParseErrorSendsError(t *testing.T) {
	d := NewMessageDispatcher()
	conn, client := pipeConn(t)

	go d.Dispatch(conn, []byte(`{not json`))

	frame := readServerFrame(t, client)
	if frame["type"] != protocol.TypeError || frame["code"] != "parse_error" {
		t.Fatalf("frame = %v, want parse_error", frame)
	}
}

func TestConnectionManagerBindAndLookup(t *testing.T) {
	cm := NewConnectionManager()
	a1, _ := pipeConn(t)
	a2, _ := pipeConn(t)
	a2.ID = "conn-2"
	cm.Add(a1)
	cm.Add(a2)
	cm.Bind(a1, "alice")
	cm.Bind(a2, "alice")

	if n := len(cm.ForUser("alice")); n != 2 {
		t.Fatalf("alice has %d connections, want 2", n)
	}

	if !cm.Remove(a1.ID) {
		t.Fatal("remove reported not found")
	}
	if cm.Remove(a1.ID) {
		t.Fatal("second remove must report not found")
	}
	if n := len(cm.ForUser("alice")); n != 1 {
		t.Fatalf("alice has %d connections after remove, want 1", n)
	}
	if cm.Count() != 1 {
		t.Fatalf("count = %d, want 1", cm.Count())
	}
}
