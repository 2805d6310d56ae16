package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/config"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/observability"
	"github.com/ent0n29/taleweaver/internal/protocol"
	"github.com/ent0n29/taleweaver/internal/roleplay"
	"github.com/ent0n29/taleweaver/internal/session"
	"github.com/ent0n29/taleweaver/internal/turn"
)

type testEnv struct {
	ts    *httptest.Server
	store *memory.InMemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute, MemoryStoreDriver: "memory"}
	directory := entity.NewStaticDirectory(entity.Seed{
		Characters: []entity.Character{
			{ID: "aria", Name: "Aria", Traits: "talkative"},
			{ID: "borin", Name: "Borin", Traits: "curious"},
			{ID: "secret", Name: "Secret", OwnerID: "owner"},
		},
		Campaigns: []entity.Campaign{
			{ID: "heist", Name: "Heist", ParticipantIDs: []string{"aria", "borin"}, GMType: entity.GMTypeUser},
		},
	})
	store := memory.NewInMemoryStore()
	metrics := observability.NewMetrics("test_httpapi")
	dispatcher := completion.NewDispatcher([]completion.Backend{completion.NewMockBackend()}, nil, metrics)
	rp, err := roleplay.New(roleplay.Deps{Directory: directory, Store: store, Completer: dispatcher, Observer: metrics})
	if err != nil {
		t.Fatalf("roleplay.New() error = %v", err)
	}
	srv := New(Deps{
		Config:    cfg,
		Sessions:  session.NewManager(cfg.SessionInactivityTimeout),
		Directory: directory,
		Store:     store,
		Roleplay:  rp,
		Turns:     turn.NewRunner(directory, rp, nil, nil, metrics),
		Metrics:   metrics,
		Backends:  dispatcher.Backends(),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, actor string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, e.ts.URL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res.StatusCode
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	var ready map[string]any
	if code := env.do(t, http.MethodGet, "/readyz", "", nil, &ready); code != http.StatusOK {
		t.Fatalf("readyz status = %d", code)
	}
	if ready["status"] != "ready" {
		t.Fatalf("readyz = %+v", ready)
	}
	if code := env.do(t, http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz status = %d", code)
	}
}

func TestRespondEndpoint(t *testing.T) {
	env := newTestEnv(t)
	var resp roleplay.Response
	code := env.do(t, http.MethodPost, "/v1/characters/aria/respond", "u1", map[string]any{
		"userInput": "Hello there",
		"options":   map[string]any{"temperature": 0.5, "rpMode": "lax"},
	}, &resp)
	if code != http.StatusOK || resp.Source != "mock" || !strings.Contains(resp.Text, "Hello there") {
		t.Fatalf("respond = %d %+v", code, resp)
	}

	var errResp errorResponse
	if code := env.do(t, http.MethodPost, "/v1/characters/secret/respond", "u1", map[string]any{"userInput": "hi"}, &errResp); code != http.StatusForbidden {
		t.Fatalf("foreign character status = %d, want 403", code)
	}
	if code := env.do(t, http.MethodPost, "/v1/characters/aria/respond", "u1", map[string]any{"userInput": "hi", "options": map[string]any{"rpMode": "wild"}}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad rp mode status = %d, want 400", code)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	var rec memory.Record
	code := env.do(t, http.MethodPost, "/v1/characters/aria/memories", "u1", map[string]any{
		"content": "I dislike spiders", "type": "preference", "importance": 8,
	}, &rec)
	if code != http.StatusCreated || rec.Type != memory.TypePreference || rec.Importance != 8 {
		t.Fatalf("add = %d %+v", code, rec)
	}
	env.do(t, http.MethodPost, "/v1/characters/aria/memories", "u1", map[string]any{"content": "The sun was setting", "type": "EVENT", "importance": 3}, nil)

	var search struct {
		Results []struct {
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if code := env.do(t, http.MethodGet, "/v1/characters/aria/memories/search?q=Tell+me+about+spiders", "u1", nil, &search); code != http.StatusOK {
		t.Fatalf("search status = %d", code)
	}
	if len(search.Results) != 1 || search.Results[0].Content != "I dislike spiders" {
		t.Fatalf("search = %+v", search)
	}

	if code := env.do(t, http.MethodDelete, "/v1/characters/aria/memories/"+rec.ID, "u1", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}
	if code := env.do(t, http.MethodDelete, "/v1/characters/aria/memories/"+rec.ID, "u1", nil, nil); code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", code)
	}
	if code := env.do(t, http.MethodDelete, "/v1/characters/aria/memories", "u1", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete all status = %d", code)
	}
	var list struct {
		Memories []memory.Record `json:"memories"`
	}
	env.do(t, http.MethodGet, "/v1/characters/aria/memories", "u1", nil, &list)
	if len(list.Memories) != 0 {
		t.Fatalf("memories after cascade = %+v", list.Memories)
	}
	if code := env.do(t, http.MethodGet, "/v1/characters/secret/memories", "u1", nil, nil); code != http.StatusForbidden {
		t.Fatalf("foreign memories status = %d, want 403", code)
	}
}

func createSession(t *testing.T, env *testEnv, body map[string]any) string {
	t.Helper()
	var created session.CreateResponse
	if code := env.do(t, http.MethodPost, "/v1/sessions", "u1", body, &created); code != http.StatusCreated {
		t.Fatalf("create session status = %d", code)
	}
	return created.SessionID
}

func TestChatSessionFlow(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env, map[string]any{"mode": "chat", "character_id": "aria"})

	var out messageResponse
	if code := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", "u1", map[string]any{"text": "Good morning"}, &out); code != http.StatusOK {
		t.Fatalf("message status = %d", code)
	}
	if len(out.Replies) != 1 || out.Replies[0].Speaker != "Aria" {
		t.Fatalf("replies = %+v", out.Replies)
	}

	var sess session.Session
	env.do(t, http.MethodGet, "/v1/sessions/"+id, "u1", nil, &sess)
	if len(sess.Transcript) != 2 || sess.Transcript[0].Sender != conversation.SenderUser {
		t.Fatalf("transcript = %+v", sess.Transcript)
	}
	if code := env.do(t, http.MethodGet, "/v1/sessions/"+id, "intruder", nil, nil); code != http.StatusForbidden {
		t.Fatalf("foreign session status = %d, want 403", code)
	}

	records, _ := env.store.List(t.Context(), "aria")
	if len(records) != 1 || records[0].Type != memory.TypeConversation {
		t.Fatalf("write-back = %+v", records)
	}

	if code := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/end", "u1", nil, nil); code != http.StatusOK {
		t.Fatalf("end status = %d", code)
	}
	if code := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", "u1", map[string]any{"text": "Still there?"}, nil); code != http.StatusConflict {
		t.Fatalf("message after end status = %d, want 409", code)
	}
}

func TestCampaignSessionMessage(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env, map[string]any{"mode": "campaign", "campaign_id": "heist"})

	var out messageResponse
	code := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", "u1", map[string]any{
		"text": "What do we do now?", "speaking_as": map[string]any{"kind": "player"},
	}, &out)
	if code != http.StatusOK {
		t.Fatalf("message status = %d", code)
	}
	if out.Selection == nil || len(out.Selection.Responders) != 2 || out.Selection.UseGMMode {
		t.Fatalf("selection = %+v", out.Selection)
	}
	if len(out.Replies) != 2 || out.Replies[0].Speaker != "Aria" || out.Replies[1].Speaker != "Borin" {
		t.Fatalf("replies = %+v", out.Replies)
	}
	if !out.Replies[1].Timestamp.After(out.Replies[0].Timestamp) {
		t.Fatalf("reply timestamps not increasing")
	}
	if code := env.do(t, http.MethodPost, "/v1/sessions", "u1", map[string]any{"mode": "campaign", "campaign_id": "nope"}, nil); code != http.StatusNotFound {
		t.Fatalf("unknown campaign status = %d, want 404", code)
	}
}

func TestSessionWebSocketStreamsTurn(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env, map[string]any{"mode": "campaign", "campaign_id": "heist"})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/sessions/" + id + "/ws"
	header := http.Header{}
	header.Set(ActorHeader, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, SessionID: id, Text: "Aria, lead the way"}); err != nil {
		t.Fatalf("write error = %v", err)
	}

	var seen []protocol.MessageType
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var evt struct {
			Type   protocol.MessageType `json:"type"`
			Reason string               `json:"reason"`
		}
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read error = %v (seen %v)", err, seen)
		}
		seen = append(seen, evt.Type)
		if evt.Type == protocol.TypeTurnEnd {
			if evt.Reason != "complete" {
				t.Fatalf("turn_end reason = %q", evt.Reason)
			}
			break
		}
	}
	if seen[0] != protocol.TypeTurnStart {
		t.Fatalf("first event = %s, want turn_start (%v)", seen[0], seen)
	}
	replies := 0
	for _, s := range seen {
		if s == protocol.TypeCharacterReply {
			replies++
		}
	}
	if replies != 2 {
		t.Fatalf("character replies = %d, want 2 (%v)", replies, seen)
	}
}
