package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/protocol"
	"github.com/ent0n29/taleweaver/internal/session"
	"github.com/ent0n29/taleweaver/internal/turn"
)

// handleSessionWS streams a session's turns. Inbound user messages are
// handled one at a time; replies are pushed as character_reply events as
// soon as each responder finishes.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	sessionID := chi.URLParam(r, "id")
	sess, err := s.sessions.GetFor(actor.ID, sessionID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, actor, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSMessage("outbound", "write_error")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.push(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) runConnection(ctx context.Context, actor entity.Actor, sess *session.Session, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.UserMessage:
			s.runWSTurn(ctx, actor, sess, m, outbound)
		case protocol.ClientControl:
			if m.Action != "end" {
				continue
			}
			if _, err := s.sessions.End(sess.ID); err == nil {
				s.metrics.SessionClosed("ended")
			}
			s.push(ctx, outbound, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: sess.ID,
				Code:      "session_ended",
			})
		}
	}
}

func (s *Server) runWSTurn(ctx context.Context, actor entity.Actor, sess *session.Session, m protocol.UserMessage, outbound chan<- any) {
	turnID := conversation.NewID(time.Now())
	req := messageRequest{
		Text:        m.Text,
		SpeakingAs:  turn.SpeakingAs{Kind: turn.SpeakerKind(m.SpeakingAs.Kind), CharacterID: m.SpeakingAs.CharacterID},
		RPMode:      m.RPMode,
		GMPrompt:    m.GMPrompt,
		Temperature: m.Temperature,
	}
	hooks := turnHooks{
		onStart: func(sel turn.Selection) {
			responders := make([]protocol.Responder, 0, len(sel.Responders))
			for _, r := range sel.Responders {
				responders = append(responders, protocol.Responder{ID: r.ID, Name: r.Name})
			}
			s.push(ctx, outbound, protocol.TurnStart{
				Type:       protocol.TypeTurnStart,
				SessionID:  sess.ID,
				TurnID:     turnID,
				Responders: responders,
				UseGMMode:  sel.UseGMMode,
			})
		},
		onReply: func(reply conversation.Message) {
			s.push(ctx, outbound, protocol.CharacterReply{
				Type:      protocol.TypeCharacterReply,
				SessionID: sess.ID,
				TurnID:    turnID,
				Message:   reply,
			})
		},
	}

	_, err := s.runSessionTurn(ctx, actor, sess, req, hooks)
	reason := "complete"
	if err != nil {
		reason = "halted"
		s.push(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      errorCode(err),
			Source:    "turn",
			Retryable: isRetryableTurnError(err),
			Detail:    userFacing(err),
		})
	}
	s.push(ctx, outbound, protocol.TurnEnd{
		Type:      protocol.TypeTurnEnd,
		SessionID: sess.ID,
		TurnID:    turnID,
		Reason:    reason,
	})
}

// push never blocks the turn; when the writer is gone or saturated the
// event is dropped.
func (s *Server) push(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	default:
		if t, ok := messageTypeOf(msg); ok {
			s.metrics.ObserveWSMessage("outbound_dropped", string(t))
		}
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, turn.ErrCharacterNotFound):
		return "character_not_found"
	case errors.Is(err, entity.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, session.ErrTurnInProgress):
		return "turn_in_progress"
	case errors.Is(err, session.ErrEnded):
		return "session_ended"
	default:
		return "turn_failed"
	}
}

func isRetryableTurnError(err error) bool {
	return !errors.Is(err, entity.ErrUnauthorized) && !errors.Is(err, turn.ErrCharacterNotFound) && !errors.Is(err, session.ErrEnded)
}

func userFacing(err error) string {
	var te *turn.Error
	if errors.As(err, &te) {
		return te.UserMessage()
	}
	if errors.Is(err, entity.ErrUnauthorized) || errors.Is(err, session.ErrTurnInProgress) || errors.Is(err, session.ErrEnded) {
		return err.Error()
	}
	return completion.UserMessage
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.TurnStart:
		return m.Type, true
	case protocol.CharacterReply:
		return m.Type, true
	case protocol.TurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
