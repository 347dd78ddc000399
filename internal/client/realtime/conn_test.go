package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community-chat/internal/models"
)

// fakeServer confirms community:7, rejects everything else and pushes events
// through push.
type fakeServer struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.Mutex
	conns      []*websocket.Conn
	subscribes map[string]int
	actions    []string
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t, subscribes: map[string]int{}}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		f.write(conn, models.Frame{Type: models.FrameWelcome})

		for {
			var cmd models.Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd.Command {
			case models.CommandSubscribe:
				f.mu.Lock()
				f.subscribes[cmd.Identifier]++
				f.mu.Unlock()
				frameType := models.FrameRejectSubscription
				if cmd.Identifier == "community:7" {
					frameType = models.FrameConfirmSubscription
				}
				f.write(conn, models.Frame{Type: frameType, Identifier: cmd.Identifier})
			case models.CommandMessage:
				f.mu.Lock()
				f.actions = append(f.actions, cmd.Identifier+"/"+cmd.Data.Action)
				f.mu.Unlock()
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeServer) write(conn *websocket.Conn, frame models.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = conn.WriteJSON(frame)
}

func (f *fakeServer) latest() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func (f *fakeServer) push(topic string, event models.Event) {
	raw, err := models.EncodeEvent(event)
	require.NoError(f.t, err)
	f.write(f.latest(), models.Frame{Identifier: topic, Message: raw})
}

func (f *fakeServer) subscribeCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[topic]
}

func fastBackoff() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }

func connect(t *testing.T, f *fakeServer, opts Options) *Conn {
	t.Helper()
	if opts.Backoff == nil {
		opts.Backoff = fastBackoff
	}
	conn := NewConn(f.url(), "tok", opts)
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeConfirmAndDeliver(t *testing.T) {
	f := newFakeServer(t)
	conn := connect(t, f, Options{})

	got := make(chan models.Event, 1)
	sub := conn.Subscribe("community:7", func(e models.Event) { got <- e })
	eventually(t, func() bool { return sub.State() == StateConfirmed })

	f.push("community:7", models.CreateChatMessage{Message: models.Message{ID: 5}})

	select {
	case e := <-got:
		created, ok := e.(models.CreateChatMessage)
		require.True(t, ok)
		assert.Equal(t, int64(5), created.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	f := newFakeServer(t)
	conn := connect(t, f, Options{})

	first := conn.Subscribe("community:7", nil)
	second := conn.Subscribe("community:7", nil)

	assert.Same(t, first, second)
}

func TestRejectedSubscriptionIsTerminalAndReplaced(t *testing.T) {
	f := newFakeServer(t)
	conn := connect(t, f, Options{})

	sub := conn.Subscribe("community:8", nil)
	eventually(t, func() bool { return sub.State() == StateRejected })
	_, ok := conn.Subscription("community:8")
	assert.False(t, ok)

	again := conn.Subscribe("community:8", nil)
	assert.NotSame(t, sub, again)
	assert.Equal(t, StateRejected, sub.State())
}

func TestUnsubscribeClosesHandle(t *testing.T) {
	f := newFakeServer(t)
	conn := connect(t, f, Options{})

	sub := conn.Subscribe("community:7", nil)
	conn.Unsubscribe(sub)

	assert.Equal(t, StateClosed, sub.State())
	_, ok := conn.Subscription("community:7")
	assert.False(t, ok)
}

func TestReconnectResubscribes(t *testing.T) {
	f := newFakeServer(t)
	reconnected := make(chan struct{}, 1)
	conn := connect(t, f, Options{OnReconnect: func() { reconnected <- struct{}{} }})

	sub := conn.Subscribe("community:7", nil)
	eventually(t, func() bool { return sub.State() == StateConfirmed })

	_ = f.latest().Close()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("did not reconnect")
	}
	eventually(t, func() bool { return f.subscribeCount("community:7") == 2 })
	eventually(t, func() bool { return sub.State() == StateConfirmed })
	same, ok := conn.Subscription("community:7")
	require.True(t, ok)
	assert.Same(t, sub, same)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	f := newFakeServer(t)
	conn := connect(t, f, Options{})

	calls := make(chan struct{}, 2)
	sub := conn.Subscribe("community:7", func(models.Event) {
		calls <- struct{}{}
		panic("boom")
	})
	eventually(t, func() bool { return sub.State() == StateConfirmed })

	f.push("community:7", models.CreateChatMessage{Message: models.Message{ID: 1}})
	f.push("community:7", models.CreateChatMessage{Message: models.Message{ID: 2}})

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called after panic")
		}
	}
}

func TestPerformSendsAction(t *testing.T) {
	f := newFakeServer(t)
	conn := connect(t, f, Options{})

	conn.Perform("community:7", models.ActionRefreshCommunityInfo)

	eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.actions) == 1 && f.actions[0] == "community:7/"+models.ActionRefreshCommunityInfo
	})
}

func TestConnectRejectsBadToken(t *testing.T) {
	f := newFakeServer(t)
	conn := NewConn(f.url(), "wrong", Options{Backoff: fastBackoff})

	err := conn.Connect(context.Background())

	require.Error(t, err)
}

func TestPerformWhileDisconnectedDoesNotPanic(t *testing.T) {
	conn := NewConn("ws://127.0.0.1:1/ws", "tok", Options{})
	conn.Perform("community:7", models.ActionRefreshCommunityInfo)
	sub := conn.Subscribe("community:7", nil)
	assert.Equal(t, StatePending, sub.State())
	assert.Equal(t, StatePending, (&Subscription{}).State())
}
