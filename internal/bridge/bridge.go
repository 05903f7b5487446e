// Package bridge exposes the Command Interface to one remote peer over a
// websocket client connection.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"sentinel/internal/domain"
	"sentinel/internal/telemetry"
)

const writeWait = 10 * time.Second

// Commands is the part of the engine the bridge needs.
type Commands interface {
	Snapshot() *domain.State
	Dispatch(ctx context.Context, action string, args []json.RawMessage) (any, error)
	MarkRemoteConnected(ctx context.Context, url string) error
	MarkRemoteDisconnected(ctx context.Context) error
}

type Config struct {
	ReconnectDelay time.Duration
	// TokenSecret signs a short-lived HS256 bearer token sent on dial.
	TokenSecret string
	AgentName   string
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics
	Dialer      *websocket.Dialer
}

type Bridge struct {
	cmds Commands
	cfg  Config

	ctx    context.Context
	cancel context.CancelFunc

	// connMu serializes Connect and Disconnect so at most one link is open.
	connMu sync.Mutex

	mu   sync.Mutex
	cur  *link
	done bool
}

// link is one open connection. Its read loop owns inbound processing;
// writes are serialized by writeMu.
type link struct {
	ws       *websocket.Conn
	url      string
	writeMu  sync.Mutex
	closed   chan struct{}
	shutdown bool
}

func New(cmds Commands, cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.AgentName == "" {
		cfg.AgentName = domain.ActorRemoteAgent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{cmds: cmds, cfg: cfg, ctx: ctx, cancel: cancel}
}

var ErrClosed = errors.New("bridge closed")

// Connect opens a link to url, replacing any current link.
func (b *Bridge) Connect(ctx context.Context, url string) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return ErrClosed
	}
	prev := b.cur
	b.mu.Unlock()
	if prev != nil {
		b.closeLink(prev, false)
	}

	header := http.Header{}
	if b.cfg.TokenSecret != "" {
		token, err := b.signToken()
		if err != nil {
			return fmt.Errorf("sign bridge token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := b.cfg.Dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	l := &link{ws: ws, url: url, closed: make(chan struct{})}

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	b.cur = l
	b.mu.Unlock()

	if err := b.cmds.MarkRemoteConnected(ctx, url); err != nil {
		b.cfg.Logger.Error("record remote link failed", "url", url, "error", err)
	}
	b.cfg.Logger.Info("remote bridge connected", "url", url)
	go b.readLoop(l)
	return nil
}

func (b *Bridge) signToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   b.cfg.AgentName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.cfg.TokenSecret))
}

// Disconnect closes the current link, if any, and records it.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.mu.Lock()
	l := b.cur
	b.mu.Unlock()
	if l == nil {
		return nil
	}
	b.closeLink(l, false)
	return nil
}

// Close shuts the bridge down without recording a disconnect, so the link is
// resumed on next start.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.done = true
	l := b.cur
	b.mu.Unlock()
	if l != nil {
		b.closeLink(l, true)
	}
	b.cancel()
	return nil
}

func (b *Bridge) closeLink(l *link, shutdown bool) {
	b.mu.Lock()
	l.shutdown = l.shutdown || shutdown
	b.mu.Unlock()
	l.writeMu.Lock()
	_ = l.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	l.writeMu.Unlock()
	_ = l.ws.Close()
	<-l.closed
}

// Connected reports whether a link is open.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur != nil
}

// Resume reopens the persisted link once, after the reconnect delay, when the
// document says a link was active.
func (b *Bridge) Resume(ctx context.Context) error {
	user := b.cmds.Snapshot().User
	if !user.IsRemoteConnected || user.RemoteURL == "" {
		return nil
	}
	select {
	case <-time.After(b.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := b.Connect(ctx, user.RemoteURL); err != nil {
		b.cfg.Logger.Warn("remote reconnect failed", "url", user.RemoteURL, "error", err)
		if merr := b.cmds.MarkRemoteDisconnected(ctx); merr != nil {
			b.cfg.Logger.Error("record remote disconnect failed", "error", merr)
		}
		return err
	}
	return nil
}

func (b *Bridge) readLoop(l *link) {
	defer func() {
		_ = l.ws.Close()
		b.mu.Lock()
		current := b.cur == l
		if current {
			b.cur = nil
		}
		shutdown := l.shutdown
		b.mu.Unlock()
		if current && !shutdown {
			if err := b.cmds.MarkRemoteDisconnected(context.WithoutCancel(b.ctx)); err != nil {
				b.cfg.Logger.Error("record remote disconnect failed", "error", err)
			}
		}
		b.cfg.Logger.Info("remote bridge disconnected", "url", l.url)
		close(l.closed)
	}()
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.cfg.Logger.Debug("remote bridge read ended", "url", l.url, "error", err)
			}
			return
		}
		b.handle(l, data)
	}
}

// handle processes one inbound frame and answers it.
func (b *Bridge) handle(l *link, data []byte) {
	req, args, err := ParseRequest(data)
	if err != nil {
		b.cfg.Metrics.BridgeFrame("in", StatusError)
		b.cfg.Logger.Warn("remote frame rejected", "error", err, "action", req.Action, "request_id", string(req.RequestID))
		b.send(l, errorFrame(req.RequestID, err))
		return
	}
	result, err := b.cmds.Dispatch(b.ctx, req.Action, args)
	if err != nil {
		b.cfg.Metrics.BridgeFrame("in", StatusError)
		b.cfg.Logger.Warn("remote action failed", "error", err, "action", req.Action, "request_id", string(req.RequestID))
		b.send(l, errorFrame(req.RequestID, err))
		return
	}
	b.cfg.Metrics.BridgeFrame("in", StatusOK)
	b.send(l, okFrame(req.RequestID, result))
}

func (b *Bridge) send(l *link, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		b.cfg.Logger.Error("encode frame failed", "error", err)
		data, _ = json.Marshal(errorFrame(f.RequestID, fmt.Errorf("encode result: %w", err)))
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		b.cfg.Metrics.BridgeFrame("out", StatusError)
		b.cfg.Logger.Warn("remote write failed", "error", err)
		return
	}
	b.cfg.Metrics.BridgeFrame("out", StatusOK)
}
