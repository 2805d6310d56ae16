package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/policy"
	"github.com/ent0n29/taleweaver/internal/roleplay"
	"github.com/ent0n29/taleweaver/internal/session"
	"github.com/ent0n29/taleweaver/internal/turn"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	actor := actorOf(r)
	req.ActorID = actor.ID
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var err error
	switch req.Mode {
	case session.ModeChat:
		_, err = s.directory.Character(r.Context(), actor, req.CharacterID)
	case session.ModeCampaign:
		_, err = s.directory.Campaign(r.Context(), actor, req.CampaignID)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	sess, err := s.sessions.Create(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.metrics.SessionOpened()
	respondJSON(w, http.StatusCreated, session.NewCreateResponse(sess, s.sessions.InactivityTimeout()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetFor(actorOf(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.GetFor(actorOf(r).ID, id); err != nil {
		respondDomainError(w, err)
		return
	}
	sess, err := s.sessions.End(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.metrics.SessionClosed("ended")
	respondJSON(w, http.StatusOK, sess)
}

type messageRequest struct {
	Text        string          `json:"text"`
	SpeakingAs  turn.SpeakingAs `json:"speaking_as"`
	RPMode      string          `json:"rp_mode,omitempty"`
	GMPrompt    string          `json:"gm_prompt,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type messageResponse struct {
	UserMessage conversation.Message   `json:"user_message"`
	Replies     []conversation.Message `json:"replies"`
	Selection   *turn.Selection        `json:"selection,omitempty"`
	// Error is set when the turn stopped early; Replies holds what was
	// produced before it.
	Error *errorResponse `json:"error,omitempty"`
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if req.SpeakingAs.Kind == "" {
		req.SpeakingAs.Kind = turn.AsPlayer
	}
	if _, err := policy.ParseMode(req.RPMode); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_rp_mode", err.Error())
		return
	}
	sess, err := s.sessions.GetFor(actorOf(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out, err := s.runSessionTurn(r.Context(), actorOf(r), sess, req, turnHooks{})
	if err != nil && out == nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// turnHooks stream progress of a turn; both fields are optional.
type turnHooks struct {
	onStart func(turn.Selection)
	onReply func(conversation.Message)
}

// runSessionTurn runs one user message through a session and records the
// transcript. A nil response means nothing was recorded; a non-nil response
// with an error carries partial campaign replies.
func (s *Server) runSessionTurn(ctx context.Context, actor entity.Actor, sess *session.Session, req messageRequest, hooks turnHooks) (*messageResponse, error) {
	mode, err := policy.ParseMode(req.RPMode)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.BeginTurn(sess.ID); err != nil {
		return nil, err
	}
	defer s.sessions.FinishTurn(sess.ID)

	history, err := s.sessions.Transcript(sess.ID)
	if err != nil {
		return nil, err
	}

	if sess.Mode == session.ModeChat {
		return s.runChatTurn(ctx, actor, sess, history, req, mode, hooks)
	}

	res, turnErr := s.turns.Play(ctx, turn.Turn{
		Actor:       actor,
		CampaignID:  sess.CampaignID,
		SpeakingAs:  req.SpeakingAs,
		History:     history,
		Message:     req.Text,
		RPMode:      mode,
		GMPrompt:    req.GMPrompt,
		Temperature: req.Temperature,
		OnStart:     hooks.onStart,
		OnReply:     hooks.onReply,
	})
	if res.UserMessage.ID == "" {
		return nil, turnErr
	}
	if err := s.sessions.Append(sess.ID, append([]conversation.Message{res.UserMessage}, res.Replies...)...); err != nil {
		return nil, err
	}
	out := &messageResponse{UserMessage: res.UserMessage, Replies: res.Replies, Selection: &res.Selection}
	if out.Replies == nil {
		out.Replies = []conversation.Message{}
	}
	if turnErr != nil {
		var te *turn.Error
		msg := turnErr.Error()
		if errors.As(turnErr, &te) {
			msg = te.UserMessage()
		}
		out.Error = &errorResponse{Error: msg, Code: "turn_halted"}
	}
	return out, turnErr
}

func (s *Server) runChatTurn(
	ctx context.Context,
	actor entity.Actor,
	sess *session.Session,
	history []conversation.Message,
	req messageRequest,
	mode policy.Mode,
	hooks turnHooks,
) (*messageResponse, error) {
	character, err := s.directory.Character(ctx, actor, sess.CharacterID)
	if err != nil {
		return nil, err
	}
	if hooks.onStart != nil {
		hooks.onStart(turn.Selection{Responders: []turn.Responder{{ID: character.ID, Name: character.Name}}})
	}
	resp, err := s.roleplay.Respond(ctx, roleplay.Request{
		Actor:       actor,
		CharacterID: sess.CharacterID,
		UserInput:   req.Text,
		History:     history,
		Options: roleplay.Options{
			Temperature: req.Temperature,
			RPMode:      mode,
		},
	})
	if err != nil {
		return nil, err
	}

	userAt := s.clock.Next()
	user := conversation.Message{
		ID:        conversation.NewID(userAt),
		Sender:    conversation.SenderUser,
		Speaker:   "User",
		Text:      req.Text,
		Timestamp: userAt,
	}
	replyAt := s.clock.Next()
	reply := conversation.Message{
		ID:          conversation.NewID(replyAt),
		Sender:      conversation.SenderCharacter,
		Speaker:     character.Name,
		CharacterID: character.ID,
		Text:        resp.Text,
		Timestamp:   replyAt,
	}
	if err := s.sessions.Append(sess.ID, user, reply); err != nil {
		return nil, err
	}
	if hooks.onReply != nil {
		hooks.onReply(reply)
	}
	return &messageResponse{UserMessage: user, Replies: []conversation.Message{reply}}, nil
}
