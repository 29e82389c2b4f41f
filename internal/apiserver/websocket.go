package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coldbell/perps/backend/internal/perps"
)

type websocketSubscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const websocketReadTimeout = 90 * time.Second

// handleWebsocket streams pool.<name> channels: an ack and a snapshot on
// subscribe, engine events as they happen and a snapshot on every push tick.
// Only this goroutine writes to the connection.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		return s.isOriginAllowed(strings.TrimSpace(req.Header.Get("Origin")))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.engine.Events().Subscribe(64)
	defer unsubscribe()

	requests := make(chan websocketSubscribeRequest)
	readErrCh := make(chan error, 1)
	go readSubscribeRequests(ctx, conn, requests, readErrCh)

	interval := s.cfg.WSPushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	subs := poolSubscriptions{}
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				s.logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case req := <-requests:
			if err := s.applySubscribeRequest(ctx, conn, subs, req); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if !subs.has(event.Pool) {
				continue
			}
			envelope := websocketEnvelope{Type: event.Type, Channel: perps.Channel(event.Pool), Data: event.Data, TS: event.TS}
			if err := writeWebsocketJSON(conn, envelope); err != nil {
				return
			}
		case <-ticker.C:
			for _, name := range subs.names() {
				if err := s.writePoolSnapshot(ctx, conn, name); err != nil {
					return
				}
			}
		}
	}
}

// applySubscribeRequest updates subs and acknowledges the request. Rejected
// requests get an error envelope; only write failures are returned.
func (s *Service) applySubscribeRequest(ctx context.Context, conn *websocket.Conn, subs poolSubscriptions, req websocketSubscribeRequest) error {
	name, err := s.poolFromChannel(req.Channel)
	if err == nil && req.Type != "subscribe" && req.Type != "unsubscribe" {
		err = fmt.Errorf("unknown request type %q", req.Type)
	}
	if err != nil {
		return writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Channel: req.Channel, Error: err.Error(), TS: nowUnix()})
	}

	if req.Type == "unsubscribe" {
		delete(subs, name)
		return writeWebsocketJSON(conn, websocketEnvelope{Type: "unsubscribed", Channel: req.Channel, TS: nowUnix()})
	}
	subs[name] = struct{}{}
	if err := writeWebsocketJSON(conn, websocketEnvelope{Type: "subscribed", Channel: req.Channel, TS: nowUnix()}); err != nil {
		return err
	}
	return s.writePoolSnapshot(ctx, conn, name)
}

func (s *Service) poolFromChannel(channel string) (string, error) {
	name, ok := strings.CutPrefix(channel, "pool.")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", fmt.Errorf("channel must be pool.<name>")
	}
	if _, err := s.engine.Pool(name); err != nil {
		return "", err
	}
	return name, nil
}

func (s *Service) writePoolSnapshot(ctx context.Context, conn *websocket.Conn, name string) error {
	channel := perps.Channel(name)
	state, err := s.poolState(ctx, name)
	if err != nil {
		return writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Channel: channel, Error: err.Error(), TS: nowUnix()})
	}
	return writeWebsocketJSON(conn, websocketEnvelope{Type: "snapshot", Channel: channel, Data: state, TS: nowUnix()})
}

// readSubscribeRequests forwards client requests until the connection fails.
func readSubscribeRequests(ctx context.Context, conn *websocket.Conn, requests chan<- websocketSubscribeRequest, readErrCh chan<- error) {
	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
	})
	for {
		var req websocketSubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			readErrCh <- err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
		req.Type = strings.ToLower(strings.TrimSpace(req.Type))
		req.Channel = strings.TrimSpace(req.Channel)
		select {
		case requests <- req:
		case <-ctx.Done():
			readErrCh <- nil
			return
		}
	}
}

func writeWebsocketJSON(conn *websocket.Conn, payload websocketEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

// poolSubscriptions is owned by the connection's write loop.
type poolSubscriptions map[string]struct{}

func (p poolSubscriptions) has(name string) bool {
	_, ok := p[name]
	return ok
}

func (p poolSubscriptions) names() []string {
	out := make([]string, 0, len(p))
	for name := range p {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
