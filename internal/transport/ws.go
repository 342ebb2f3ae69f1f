// Package transport carries consensus messages between peers over duplex
// websocket connections, framed as JSON text. The consensus core only sees
// the raft.Transport interface and a stream of inbound typed messages.
package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"concord/internal/raft"
	"concord/pkg/logger"
)

// Handler consumes inbound peer messages.
type Handler interface {
	HandleMessage(from string, msg raft.Message)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// peerConn serializes writes; gorilla allows one concurrent writer per conn.
type peerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// WS implements raft.Transport with one cached outbound connection per peer.
// Outbound connections are dialed lazily; inbound connections arrive on the
// websocket endpoint and are read until they close. Replies do not reuse the
// inbound connection: the sender's advertised address in each envelope is
// enough to route them back.
type WS struct {
	self    string
	handler Handler

	mu     sync.Mutex
	conns  map[string]*peerConn
	closed bool
}

func New(self string) *WS {
	return &WS{self: self, conns: make(map[string]*peerConn)}
}

// Bind sets the inbound message consumer. Must be called before serving.
func (t *WS) Bind(h Handler) { t.handler = h }

// HTTPHandler returns the endpoint peers dial; mount it at /ws.
func (t *WS) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		go t.readLoop(conn)
	}
}

// Send frames msg and writes it to peer's connection, dialing one if needed.
// A write failure drops the cached connection so the next send redials.
func (t *WS) Send(peer string, msg raft.Message) error {
	data, err := raft.EncodeMessage(t.self, msg)
	if err != nil {
		return err
	}
	pc, err := t.peerConn(peer)
	if err != nil {
		return err
	}
	pc.mu.Lock()
	err = pc.conn.WriteMessage(websocket.TextMessage, data)
	pc.mu.Unlock()
	if err != nil {
		t.drop(peer, pc)
	}
	return err
}

func (t *WS) peerConn(peer string) (*peerConn, error) {
	t.mu.Lock()
	if pc, ok := t.conns[peer]; ok {
		t.mu.Unlock()
		return pc, nil
	}
	t.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+peer+"/ws", nil)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return nil, websocket.ErrCloseSent
	}
	if existing, ok := t.conns[peer]; ok {
		t.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	pc := &peerConn{conn: conn}
	t.conns[peer] = pc
	t.mu.Unlock()

	// The peer may answer on this same connection.
	go t.readLoop(conn)
	return pc, nil
}

func (t *WS) drop(peer string, pc *peerConn) {
	t.mu.Lock()
	if t.conns[peer] == pc {
		delete(t.conns, peer)
	}
	t.mu.Unlock()
	pc.conn.Close()
}

// readLoop decodes frames until the connection closes. A malformed frame is
// logged and dropped; the connection stays up.
func (t *WS) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		from, msg, err := raft.DecodeMessage(data)
		if err != nil {
			logger.Warn("dropping malformed message", "remote", conn.RemoteAddr().String(), "err", err)
			continue
		}
		t.handler.HandleMessage(from, msg)
	}
}

// Close tears down all cached connections.
func (t *WS) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for peer, pc := range t.conns {
		pc.conn.Close()
		delete(t.conns, peer)
	}
}
