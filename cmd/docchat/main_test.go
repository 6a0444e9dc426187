package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/docid"
	"github.com/hyperjump/docchat/internal/identity"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/status"
	"go.uber.org/zap"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after positionals are moved first",
			args:     []string{"doc-1", "what is this", "-output", "json"},
			expected: []string{"-output", "json", "doc-1", "what is this"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-output", "json", "doc-1"},
			expected: []string{"-output", "json", "doc-1"},
		},
		{
			name:     "positionals only returns unchanged",
			args:     []string{"doc-1", "question"},
			expected: []string{"doc-1", "question"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "bool flag does not take a value",
			args:     []string{"./report.pdf", "-index", "-id", "report"},
			expected: []string{"-index", "-id", "report", "./report.pdf"},
		},
		{
			name:     "flag with inline value",
			args:     []string{"doc-1", "--user=bob"},
			expected: []string{"--user=bob", "doc-1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reorderArgs(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"summary"}, "summary"},
		{"multiple words", []string{"what", "is", "the", "capital"}, "what is the capital"},
		{"single quoted phrase", []string{"what is the capital"}, "what is the capital"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestRegistration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")

	id, loc, err := registration("", "alice", path)
	if err != nil {
		t.Fatal(err)
	}
	if loc != path {
		t.Errorf("location = %q, want %q", loc, path)
	}
	if id != docid.FromPath("alice", path) {
		t.Errorf("id = %q, want path-derived id", id)
	}
	if other, _, _ := registration("", "bob", path); other == id {
		t.Error("different owners should get different ids for the same path")
	}

	id, loc, err = registration("", "alice", "file://"+path)
	if err != nil {
		t.Fatal(err)
	}
	if loc != path || id != docid.FromPath("alice", path) {
		t.Errorf("file URL: id=%q loc=%q", id, loc)
	}

	id, loc, err = registration("report-1", "alice", "https://example.com/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if id != "report-1" || loc != "https://example.com/report.pdf" {
		t.Errorf("explicit id: id=%q loc=%q", id, loc)
	}

	id, _, _ = registration("", "alice", "https://example.com/report.pdf")
	if err := docid.Validate(id); err != nil {
		t.Errorf("generated id %q invalid: %v", id, err)
	}
}

func TestLoadHistory(t *testing.T) {
	dir := t.TempDir()

	turns, err := loadHistory("")
	if err != nil || turns != nil {
		t.Fatalf("empty path: turns=%v err=%v", turns, err)
	}

	valid := filepath.Join(dir, "chat.json")
	content := `[{"role":"user","content":"What is the capital of France?"},{"role":"assistant","content":"Paris."}]`
	if err := os.WriteFile(valid, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	turns, err = loadHistory(valid)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Role != models.RoleUser || turns[1].Content != "Paris." {
		t.Errorf("turns = %+v", turns)
	}

	badRole := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badRole, []byte(`[{"role":"system","content":"x"}]`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadHistory(badRole); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := loadHistory(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage:  config.StorageConfig{DatabasePath: filepath.Join(dir, "docchat.db")},
		Vector:   config.VectorConfig{Backend: "sqlite", Path: filepath.Join(dir, "vectors.db")},
		Chunking: config.ChunkingConfig{Size: 200, Overlap: 20},
	}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 256
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestInitializeComponents_localPipeline(t *testing.T) {
	cfg := testConfig(t)
	allowLocalFiles(cfg)
	docPath := filepath.Join(t.TempDir(), "france.txt")
	text := "The capital of France is Paris.\nBerlin is the capital of Germany.\n"
	if err := os.WriteFile(docPath, []byte(text), 0600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	resolver := identity.StaticResolver("alice")

	c, err := initializeComponents(ctx, cfg, zap.NewNop(), resolver)
	if err != nil {
		t.Fatal(err)
	}
	id, loc, err := registration("", "alice", docPath)
	if err != nil {
		t.Fatal(err)
	}
	doc := &models.Document{ID: id, OwnerID: "alice", Location: loc}
	if _, err := c.Service.Register(ctx, doc); err != nil {
		t.Fatal(err)
	}
	out, err := c.Service.IngestAndIndex(ctx, id, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if out.State != status.Indexed {
		t.Fatalf("state = %s (%s)", out.State, out.Reason)
	}
	ans, err := c.Service.Ask(ctx, id, nil, "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ans.Answer, "Paris") {
		t.Errorf("answer = %q", ans.Answer)
	}
	c.Close()

	// A new process sees the persisted status and namespace and does no work.
	c, err = initializeComponents(ctx, cfg, zap.NewNop(), resolver)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	out, err = c.Service.IngestAndIndex(ctx, id, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if out.State != status.Indexed || out.Result == nil || !out.Result.Reused {
		t.Errorf("second run should reuse the namespace: %+v", out)
	}
	n, err := c.Storage.CountDocuments(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountDocuments = %d, %v", n, err)
	}
}

func TestInitializeComponents_serverRefusesLocalFiles(t *testing.T) {
	cfg := testConfig(t)
	docPath := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(docPath, []byte("secret"), 0600); err != nil {
		t.Fatal(err)
	}
	ctx := identity.WithOwner(context.Background(), "mallory")
	c, err := initializeComponents(ctx, cfg, zap.NewNop(), identity.ContextResolver{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for _, loc := range []string{docPath, "file://" + docPath} {
		_, err := c.Service.Register(ctx, &models.Document{ID: "secret", OwnerID: "mallory", Location: loc})
		if apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Errorf("Register(%s) = %v, want invalid_input", loc, err)
		}
	}
}

func TestAllowLocalFiles(t *testing.T) {
	cfg := testConfig(t)
	allowLocalFiles(cfg)
	allowLocalFiles(cfg)
	if got := strings.Join(cfg.Fetch.AllowedSchemes, ","); got != "http,https,file" {
		t.Errorf("AllowedSchemes = %s", got)
	}
}

func TestInitializeComponents_rejectsBadChunking(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chunking.Overlap = cfg.Chunking.Size
	if _, err := initializeComponents(context.Background(), cfg, zap.NewNop(), identity.StaticResolver("alice")); err == nil {
		t.Error("expected error when overlap >= size")
	}
}

func TestDataFiles(t *testing.T) {
	cfg := testConfig(t)
	files := dataFiles(cfg)
	if len(files) == 0 || files[0] != cfg.Storage.DatabasePath {
		t.Errorf("dataFiles = %v", files)
	}
	cfg.Vector.Backend = "redis"
	for _, f := range dataFiles(cfg) {
		if f == cfg.Vector.Path {
			t.Error("redis backend should not count a local vector file")
		}
	}
}
