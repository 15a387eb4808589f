package client

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"liveboard.dev/internal/protocol"
)

// Subscriber maintains the realtime push channel: it dials the feed
// websocket and forwards every POST frame into the engine. The
// subscription is scoped to ctx and never outlives it.
type Subscriber struct {
	url      string
	clientID string
	engine   *Engine
	log      *log.Logger
}

func NewSubscriber(url, clientID string, engine *Engine, logger *log.Logger) *Subscriber {
	return &Subscriber{url: url, clientID: clientID, engine: engine, log: logger}
}

// Run connects and consumes the feed until ctx is cancelled,
// redialling after transient disconnects. Missed inserts during a gap
// surface on the next full load; the engine's id dedup absorbs any
// overlap.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Printf("feed disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the observer goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientID:        s.clientID,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			s.log.Printf("feed connected session=%s", w.SessionID)

		case protocol.TypePost:
			var pm protocol.PostMsg
			if err := json.Unmarshal(msg, &pm); err != nil {
				continue
			}
			s.engine.ApplyRemote(ctx, pm.Post)
		}
	}
}
