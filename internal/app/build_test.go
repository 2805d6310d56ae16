package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/taleweaver/internal/config"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/roleplay"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(seed, []byte(`{"characters":[{"id":"aria","name":"Aria"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	return config.Config{
		SessionInactivityTimeout:   time.Minute,
		MetricsNamespace:           "app_test",
		LogFormat:                  "text",
		MemoryStoreDriver:          "memory",
		EntitySeedPath:             seed,
		EntityCacheTTL:             time.Minute,
		CompletionBackends:         []string{"mock"},
		CompletionDefaultMaxTokens: 400,
	}
}

func TestBuildWiresMockStack(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = res.Cleanup() })

	if len(res.Backends) != 1 || res.Backends[0] != "mock" {
		t.Fatalf("backends = %v", res.Backends)
	}

	resp, err := res.Roleplay.Respond(context.Background(), roleplay.Request{
		Actor:       entity.Actor{ID: "u1"},
		CharacterID: "aria",
		UserInput:   "hello",
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resp.Source != "mock" {
		t.Fatalf("source = %q", resp.Source)
	}

	rec := httptest.NewRecorder()
	res.API.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestBuildRejectsMissingSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.EntitySeedPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected missing seed file to fail the build")
	}
}
