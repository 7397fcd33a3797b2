package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/beacon/pkg/domain"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAcceptor struct {
	mu           sync.Mutex
	conns        map[string]*Connection
	messages     []string
	touches      int
	disconnected []string
}

func newRecordingAcceptor() *recordingAcceptor {
	return &recordingAcceptor{conns: make(map[string]*Connection)}
}

func (a *recordingAcceptor) Accept(conn *Connection) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns["c1"] = conn
	return "c1", conn.Send(context.Background(), []byte("welcome"))
}

func (a *recordingAcceptor) HandleMessage(_ context.Context, clientID string, message []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, clientID+":"+string(message))
}

func (a *recordingAcceptor) Touch(string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touches++
}

func (a *recordingAcceptor) Disconnect(clientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnected = append(a.disconnected, clientID)
}

func (a *recordingAcceptor) conn(id string) *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conns[id]
}

func dial(t *testing.T, acceptor Acceptor) *gorillaws.Conn {
	t.Helper()

	server := httptest.NewServer(NewServer(WithAcceptor(acceptor)))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestServer_AcceptSendsQueuedMessages(t *testing.T) {
	acceptor := newRecordingAcceptor()
	conn := dial(t, acceptor)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(msg))
}

func TestServer_InboundMessagesReachAcceptor(t *testing.T) {
	acceptor := newRecordingAcceptor()
	conn := dial(t, acceptor)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte("hello")))

	assert.Eventually(t, func() bool {
		acceptor.mu.Lock()
		defer acceptor.mu.Unlock()
		return len(acceptor.messages) == 1 && acceptor.messages[0] == "c1:hello"
	}, time.Second, 5*time.Millisecond)
}

func TestConnection_PingIsAnsweredWithPong(t *testing.T) {
	acceptor := newRecordingAcceptor()
	conn := dial(t, acceptor)

	// the default client ping handler only runs while reading
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return acceptor.conn("c1") != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, acceptor.conn("c1").Ping())

	assert.Eventually(t, func() bool {
		acceptor.mu.Lock()
		defer acceptor.mu.Unlock()
		return acceptor.touches == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConnection_CloseSendsCodeAndDisconnects(t *testing.T) {
	acceptor := newRecordingAcceptor()
	conn := dial(t, acceptor)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	server := acceptor.conn("c1")
	require.NoError(t, server.Close(domain.CloseNormalClosure, "bye"))
	require.NoError(t, server.Close(domain.CloseNormalClosure, "again"))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure))

	assert.ErrorIs(t, server.Send(context.Background(), []byte("late")), domain.ErrConnectionClosed)
	assert.ErrorIs(t, server.Ping(), domain.ErrConnectionClosed)

	assert.Eventually(t, func() bool {
		acceptor.mu.Lock()
		defer acceptor.mu.Unlock()
		return len(acceptor.disconnected) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConnection_SendBufferFull(t *testing.T) {
	c := &Connection{sendChan: make(chan []byte, 1), ctx: context.Background()}

	require.NoError(t, c.Send(context.Background(), []byte("a")))
	assert.ErrorIs(t, c.Send(context.Background(), []byte("b")), domain.ErrSendBufferFull)
}
