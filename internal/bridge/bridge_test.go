package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/domain"
	"sentinel/internal/engine"
)

type memStore struct{}

func (memStore) Load(context.Context) ([]byte, error) { return nil, nil }
func (memStore) Save(context.Context, []byte, []domain.SystemLog) error { return nil }

// peer is the remote end of the link: a websocket server handing each
// accepted connection to the test.
type peer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	header chan http.Header
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{conns: make(chan *websocket.Conn, 4), header: make(chan http.Header, 4)}
	up := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.header <- r.Header.Clone()
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- c
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) url() string { return "ws" + strings.TrimPrefix(p.srv.URL, "http") }

func (p *peer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("peer: no connection")
		return nil
	}
}

func roundTrip(t *testing.T, c *websocket.Conn, frame string) map[string]any {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func setup(t *testing.T, cfg Config) (*engine.Engine, *Bridge, *peer) {
	t.Helper()
	eng := engine.New(memStore{})
	b := New(eng, cfg)
	t.Cleanup(func() { b.Close() })
	return eng, b, newPeer(t)
}

func TestRemoteFailTask(t *testing.T) {
	ctx := context.Background()
	eng, b, p := setup(t, Config{})
	require.NoError(t, b.Connect(ctx, p.url()))
	c := p.accept(t)

	user := eng.Snapshot().User
	assert.True(t, user.IsRemoteConnected)
	assert.Equal(t, p.url(), user.RemoteURL)
	assert.Equal(t, "REMOTE_LINK", eng.Snapshot().Logs[0].Action)

	out := roundTrip(t, c, `{"action":"failTask","args":["t1","AgentX","No evidence found"],"requestId":"r1"}`)
	assert.Equal(t, "RESPONSE", out["type"])
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, "r1", out["requestId"])

	s := eng.Snapshot()
	task, _ := s.FindTask("t1")
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, 10, s.ConsequenceLevel)
}

func TestRemoteErrors(t *testing.T) {
	ctx := context.Background()
	_, b, p := setup(t, Config{})
	require.NoError(t, b.Connect(ctx, p.url()))
	c := p.accept(t)

	out := roundTrip(t, c, `{"action":"launchRocket","args":[],"requestId":7}`)
	assert.Equal(t, "ERROR", out["type"])
	assert.Equal(t, "ERROR", out["status"])
	assert.EqualValues(t, 7, out["requestId"])
	assert.Contains(t, out["error"], "launchRocket")

	out = roundTrip(t, c, `not json`)
	assert.Equal(t, "ERROR", out["type"])
	assert.NotContains(t, out, "requestId")

	out = roundTrip(t, c, `{"action":"failTask","args":{"id":"t1"},"requestId":"r2"}`)
	assert.Equal(t, "ERROR", out["type"])
	assert.Equal(t, "r2", out["requestId"])

	out = roundTrip(t, c, `{"action":"addTask","args":["s2-w7"],"requestId":"r3"}`)
	assert.Equal(t, "ERROR", out["type"])

	// the link survives errors
	out = roundTrip(t, c, `{"action":"getTasks","args":["overdue"],"requestId":"r4"}`)
	assert.Equal(t, "RESPONSE", out["type"])
}

func TestRemoteFramesInOrder(t *testing.T) {
	ctx := context.Background()
	eng, b, p := setup(t, Config{})
	require.NoError(t, b.Connect(ctx, p.url()))
	c := p.accept(t)

	for _, f := range []string{
		`{"action":"addLog","args":["Remote_Agent","STEP","one","info"],"requestId":"a"}`,
		`{"action":"addLog","args":["Remote_Agent","STEP","two","info"],"requestId":"b"}`,
		`{"action":"addLog","args":["Remote_Agent","STEP","three","info"],"requestId":"c"}`,
	} {
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(f)))
	}
	var ids []string
	for range 3 {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		var fr Frame
		require.NoError(t, json.Unmarshal(data, &fr))
		ids = append(ids, strings.Trim(string(fr.RequestID), `"`))
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	logs := eng.Snapshot().Logs
	assert.Equal(t, []string{"three", "two", "one"}, []string{logs[0].Details, logs[1].Details, logs[2].Details})
}

func TestPeerCloseMarksDisconnected(t *testing.T) {
	ctx := context.Background()
	eng, b, p := setup(t, Config{})
	require.NoError(t, b.Connect(ctx, p.url()))
	c := p.accept(t)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return !b.Connected() }, 5*time.Second, 10*time.Millisecond)
	s := eng.Snapshot()
	assert.False(t, s.User.IsRemoteConnected)
	assert.Equal(t, p.url(), s.User.RemoteURL)
	assert.Equal(t, "REMOTE_DISCONNECT", s.Logs[0].Action)
}

func TestDisconnectAndClose(t *testing.T) {
	ctx := context.Background()
	eng, b, p := setup(t, Config{})

	require.NoError(t, b.Connect(ctx, p.url()))
	p.accept(t)
	require.NoError(t, b.Disconnect(ctx))
	assert.False(t, b.Connected())
	assert.False(t, eng.Snapshot().User.IsRemoteConnected)

	require.NoError(t, b.Connect(ctx, p.url()))
	p.accept(t)
	require.NoError(t, b.Close())
	assert.True(t, eng.Snapshot().User.IsRemoteConnected, "shutdown keeps the link for resume")
	assert.ErrorIs(t, b.Connect(ctx, p.url()), ErrClosed)
}

func TestConnectReplacesLink(t *testing.T) {
	ctx := context.Background()
	eng, b, p := setup(t, Config{})
	require.NoError(t, b.Connect(ctx, p.url()))
	p.accept(t)
	require.NoError(t, b.Connect(ctx, p.url()))
	c := p.accept(t)

	assert.True(t, eng.Snapshot().User.IsRemoteConnected)
	out := roundTrip(t, c, `{"action":"getTasks","args":[],"requestId":"x"}`)
	assert.Equal(t, "RESPONSE", out["type"])
}

func TestConcurrentConnectKeepsOneLink(t *testing.T) {
	ctx := context.Background()
	_, b, p := setup(t, Config{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- b.Connect(ctx, p.url()) }()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	conns := []*websocket.Conn{p.accept(t), p.accept(t)}

	served := 0
	for i, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, []byte(`{"action":"getTasks","args":[],"requestId":"q"}`)); err != nil {
			continue
		}
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		if err != nil {
			continue
		}
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out), "conn %d", i)
		if out["type"] == "RESPONSE" {
			served++
		}
	}
	assert.Equal(t, 1, served)
	assert.True(t, b.Connected())
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	eng, b, p := setup(t, Config{ReconnectDelay: 10 * time.Millisecond})

	require.NoError(t, b.Resume(ctx))
	assert.False(t, b.Connected(), "nothing to resume")

	require.NoError(t, eng.MarkRemoteConnected(ctx, p.url()))
	require.NoError(t, b.Resume(ctx))
	p.accept(t)
	assert.True(t, b.Connected())
}

func TestResumeFailureMarksDisconnected(t *testing.T) {
	ctx := context.Background()
	eng, b, _ := setup(t, Config{ReconnectDelay: time.Millisecond})
	require.NoError(t, eng.MarkRemoteConnected(ctx, "ws://127.0.0.1:1/none"))

	require.Error(t, b.Resume(ctx))
	assert.False(t, eng.Snapshot().User.IsRemoteConnected)
}

func TestDialSendsSignedToken(t *testing.T) {
	ctx := context.Background()
	_, b, p := setup(t, Config{TokenSecret: "s3cret", AgentName: "AgentX"})
	require.NoError(t, b.Connect(ctx, p.url()))
	p.accept(t)

	h := <-p.header
	raw := strings.TrimPrefix(h.Get("Authorization"), "Bearer ")
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte("s3cret"), nil })
	require.NoError(t, err)
	assert.Equal(t, "AgentX", claims.Subject)
}

func TestParseRequest(t *testing.T) {
	req, args, err := ParseRequest([]byte(`{"action":"getState"}`))
	require.NoError(t, err)
	assert.Equal(t, "getState", req.Action)
	assert.Empty(t, args)

	_, _, err = ParseRequest([]byte(`{"args":[]}`))
	assert.Error(t, err)

	_, args, err = ParseRequest([]byte(`{"action":"x","args":[1,"a",null]}`))
	require.NoError(t, err)
	assert.Len(t, args, 3)
}
