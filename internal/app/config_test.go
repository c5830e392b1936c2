package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(NewViper(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Worker.Concurrency != 1 {
		t.Fatalf("concurrency: want=1 got=%d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.LeaseTTL != 5*time.Minute {
		t.Fatalf("lease ttl: want=5m got=%s", cfg.Worker.LeaseTTL)
	}
	if cfg.Render.Backend != "local" {
		t.Fatalf("render backend: want=%q got=%q", "local", cfg.Render.Backend)
	}
	if cfg.Storage.ArtifactPrefix != "artifacts" {
		t.Fatalf("artifact prefix: want=%q got=%q", "artifacts", cfg.Storage.ArtifactPrefix)
	}
	if cfg.LLM.OpenAI.Temperature != nil {
		t.Fatalf("temperature should default to nil, got %v", *cfg.LLM.OpenAI.Temperature)
	}
	if !cfg.Render.LeadInColon {
		t.Fatalf("lead-in colon rule should default on")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("BOOKGEN_WORKER_CONCURRENCY", "4")
	t.Setenv("BOOKGEN_WORKER_LEASE_TTL", "90s")
	t.Setenv("BOOKGEN_STORAGE_MODE", "local")
	t.Setenv("BOOKGEN_HTTP_CORS_ORIGINS", "https://a.test,https://b.test")
	t.Setenv("BOOKGEN_LLM_OPENAI_TEMPERATURE", "0.2")

	cfg, err := LoadConfig(NewViper(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Fatalf("concurrency: want=4 got=%d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.LeaseTTL != 90*time.Second {
		t.Fatalf("lease ttl: want=90s got=%s", cfg.Worker.LeaseTTL)
	}
	if cfg.Storage.Mode != "local" {
		t.Fatalf("storage mode: want=%q got=%q", "local", cfg.Storage.Mode)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://b.test" {
		t.Fatalf("cors origins: got=%v", cfg.HTTP.CORSOrigins)
	}
	if cfg.LLM.OpenAI.Temperature == nil || *cfg.LLM.OpenAI.Temperature != 0.2 {
		t.Fatalf("temperature: got=%v", cfg.LLM.OpenAI.Temperature)
	}
}

func TestLoadConfigFileIsOverriddenByEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookgen.yaml")
	yaml := "worker:\n  concurrency: 5\nrender:\n  backend: hosted\n  hosted_endpoint: https://render.test\nplan:\n  deepening_max: 4\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BOOKGEN_WORKER_CONCURRENCY", "7")

	cfg, err := LoadConfig(NewViper(), path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Worker.Concurrency != 7 {
		t.Fatalf("env should win over file: want=7 got=%d", cfg.Worker.Concurrency)
	}
	if cfg.Render.Backend != "hosted" || cfg.Render.HostedEndpoint != "https://render.test" {
		t.Fatalf("render: got=%+v", cfg.Render)
	}
	if cfg.Plan.DeepeningMax != 4 {
		t.Fatalf("deepening max: want=4 got=%d", cfg.Plan.DeepeningMax)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := LoadConfig(NewViper(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Render.Backend = "word"
	cfg.Worker.Concurrency = 0
	cfg.Plan.DeepeningRatio = [2]float64{0.5, 0.1}
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"render.backend", "worker.concurrency", "deepening_ratio"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestPipelineConfigMapsOverrides(t *testing.T) {
	cfg, err := LoadConfig(NewViper(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Plan.DeepeningMin = 1
	cfg.Plan.DeepeningMax = 4
	cfg.Figures.TopK = 3
	cfg.Rewrite.LongTokenRunes = 22
	cfg.Render.LeadInColon = false
	cfg.Render.MaxImagePx = 1600

	pc := cfg.PipelineConfig()
	if pc.Plan.Deepening == nil || pc.Plan.Deepening.Min != 1 || pc.Plan.Deepening.Max != 4 {
		t.Fatalf("deepening range: got=%v", pc.Plan.Deepening)
	}
	if pc.Plan.Praktijk != nil {
		t.Fatalf("praktijk range should stay ratio-based, got=%v", pc.Plan.Praktijk)
	}
	if pc.Figures.TopK != 3 {
		t.Fatalf("top k: want=3 got=%d", pc.Figures.TopK)
	}
	if pc.Hyphenation.LongTokenRunes != 22 {
		t.Fatalf("long token runes: want=22 got=%d", pc.Hyphenation.LongTokenRunes)
	}
	if pc.LeadIn.ColonEnding {
		t.Fatalf("colon rule should be off")
	}
	if pc.MaxImagePx != 1600 {
		t.Fatalf("max image px: want=1600 got=%d", pc.MaxImagePx)
	}
}

func TestLoadDotEnvKeepsExistingEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	body := "BOOKGEN_DOTENV_KEEP=file\nBOOKGEN_DOTENV_ONLY=file\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BOOKGEN_DOTENV_KEEP", "env")
	t.Cleanup(func() { _ = os.Unsetenv("BOOKGEN_DOTENV_ONLY") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("BOOKGEN_DOTENV_KEEP"); got != "env" {
		t.Fatalf("existing var overridden: got=%q", got)
	}
	if got := os.Getenv("BOOKGEN_DOTENV_ONLY"); got != "file" {
		t.Fatalf("file var not loaded: got=%q", got)
	}
}
