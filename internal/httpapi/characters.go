package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/taleweaver/internal/campaign"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/policy"
	"github.com/ent0n29/taleweaver/internal/recall"
	"github.com/ent0n29/taleweaver/internal/roleplay"
)

type respondRequest struct {
	UserInput        string                 `json:"userInput"`
	PreviousMessages []conversation.Message `json:"previousMessages"`
	Options          roleplay.Options       `json:"options"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode, err := policy.ParseMode(string(req.Options.RPMode))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_rp_mode", err.Error())
		return
	}
	req.Options.RPMode = mode

	resp, err := s.roleplay.Respond(r.Context(), roleplay.Request{
		Actor:       actorOf(r),
		CharacterID: chi.URLParam(r, "id"),
		UserInput:   req.UserInput,
		History:     req.PreviousMessages,
		Options:     req.Options,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// authorizeCharacter checks the actor may read the character before any
// memory operation touches it.
func (s *Server) authorizeCharacter(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := s.directory.Character(r.Context(), actorOf(r), id); err != nil {
		respondDomainError(w, err)
		return "", false
	}
	return id, true
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorizeCharacter(w, r)
	if !ok {
		return
	}
	records, err := s.store.List(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": records})
}

type addMemoryRequest struct {
	Content    string `json:"content"`
	Type       string `json:"type"`
	Importance int    `json:"importance"`
	CampaignID string `json:"campaignId,omitempty"`
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorizeCharacter(w, r)
	if !ok {
		return
	}
	var req addMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Importance == 0 {
		req.Importance = memory.DefaultImportance
	}
	content := strings.TrimSpace(req.Content)
	if cid := strings.TrimSpace(req.CampaignID); cid != "" && content != "" {
		content = campaign.Tag(cid, content)
	}
	rec, err := s.store.Add(r.Context(), id, content, memory.ParseType(req.Type), req.Importance)
	if err != nil {
		if errors.Is(err, memory.ErrEmptyContent) {
			respondError(w, http.StatusBadRequest, "invalid_memory", err.Error())
			return
		}
		respondDomainError(w, err)
		return
	}
	s.metrics.ObserveMemoryEvent("added")
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorizeCharacter(w, r)
	if !ok {
		return
	}
	found, err := s.store.Delete(r.Context(), id, chi.URLParam(r, "memoryID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "memory_not_found", "memory not found")
		return
	}
	s.metrics.ObserveMemoryEvent("deleted")
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAllMemories is the character-deletion cascade.
func (s *Server) handleDeleteAllMemories(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorizeCharacter(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAll(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	s.metrics.ObserveMemoryEvent("purged")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	id, ok := s.authorizeCharacter(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit := recall.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
			return
		}
		limit = n
	}
	minScore := recall.DefaultMinScore
	if raw := q.Get("min_score"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 || f > 1 {
			respondError(w, http.StatusBadRequest, "invalid_min_score", "min_score must be within [0,1]")
			return
		}
		minScore = f
	}

	if cid := strings.TrimSpace(q.Get("campaign_id")); cid != "" {
		text := campaign.NewEnricher(s.retriever).Memories(r.Context(), id, cid, q.Get("q"))
		respondJSON(w, http.StatusOK, map[string]any{"campaign_id": cid, "memories": text})
		return
	}
	var results []recall.Scored
	if strings.TrimSpace(q.Get("q")) == "" {
		results = s.retriever.Personality(r.Context(), id, limit)
	} else {
		results = s.retriever.Retrieve(r.Context(), id, q.Get("q"), limit, minScore)
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}
