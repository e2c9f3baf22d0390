package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/livewatch/types"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livewatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

const fullYAML = `account:
  session: ${LW_TEST_SESSION}
  headers:
    Origin: https://www.pathofexile.com

league: Settlers

groups:
  - name: uniques
    searches:
      - name: headhunter
        query: abc123
      - query: def456
        league: Standard
  - name: maps
    enabled: false
    searches:
      - query: zzz999

supervisor:
  interval: 3s

limits:
  auth_cooldown: 20s
  hourly_cap: 5

budget:
  grace: 1m
  grace_ceiling: 10

rate_limit:
  safe_fraction: 0.6

fetch:
  batch_size: 5

queue:
  capacity: 4

action:
  enabled: true
  auto: true
  lock_timeout: 15s

proxies:
  residential:
    strategy: round_robin
    endpoints:
      - protocol: http
        host: proxy.example.com
        port: 8080

proxy:
  stream: residential
  http: residential

adapter:
  type: redis
  url: redis://localhost:6379
  codec: msgpack
  timeout: 2s
  retries: 1

archive:
  backend: s3
  path: my-bucket/claims
  region: us-east-1
  s3_path_style: true

log:
  level: debug
`

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("LW_TEST_SESSION", "secret-session")

	cfg, err := Load(writeTemp(t, fullYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	assertEqual(t, "account.session", cfg.Account.Session, "secret-session")
	assertEqual(t, "account.cookie_name", cfg.Account.CookieName, "POESESSID")
	assertEqual(t, "account.headers.Origin", cfg.Account.Headers["Origin"], "https://www.pathofexile.com")
	assertEqual(t, "endpoints.stream", cfg.Endpoints.Stream, DefaultStreamURL)

	if cfg.Supervisor.Interval.Duration != 3*time.Second {
		t.Errorf("supervisor.interval = %v", cfg.Supervisor.Interval)
	}
	lim := cfg.ListenerLimits()
	if lim.AuthCooldown != 20*time.Second || lim.HourlyCap != 5 {
		t.Errorf("limits = %+v", lim)
	}
	if lim.ErrorCooldown != 300*time.Second || lim.Throttle != 30*time.Second || lim.LifetimeCap != 10 {
		t.Errorf("limit defaults not applied: %+v", lim)
	}
	b := cfg.BudgetConfig()
	if b.Grace != time.Minute || b.GraceCeiling != 10 || b.SteadyCeiling != 3 {
		t.Errorf("budget = %+v", b)
	}
	if g := cfg.GovernorConfig(); g.SafeFraction != 0.6 || g.EmergencyFraction != 0.4 {
		t.Errorf("governor = %+v", g)
	}
	if cfg.Fetch.BatchSize != 5 || cfg.Queue.Capacity != 4 {
		t.Errorf("fetch/queue = %d/%d", cfg.Fetch.BatchSize, cfg.Queue.Capacity)
	}
	if !cfg.Action.Enabled || !cfg.Action.Auto || cfg.Action.LockTimeout.Duration != 15*time.Second {
		t.Errorf("action = %+v", cfg.Action)
	}
	assertEqual(t, "adapter.codec", cfg.Adapter.Codec, "msgpack")
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 1 {
		t.Error("adapter.retries = 1 expected")
	}
	assertEqual(t, "archive.backend", cfg.Archive.Backend, ArchiveS3)
	assertEqual(t, "log.level", cfg.Log.Level, "debug")
}

func TestSearches_FlattenGroups(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.ApplyDefaults()

	got := cfg.Desired()
	want := []types.ListenerConfig{
		{Key: types.ListenerKey{League: "Settlers", QueryID: "abc123"}, Name: "headhunter", Group: "uniques"},
		{Key: types.ListenerKey{League: "Standard", QueryID: "def456"}, Name: "def456", Group: "uniques"},
	}
	if len(got) != len(want) {
		t.Fatalf("desired = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("desired[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestApplyDefaults_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	assertEqual(t, "league", cfg.League, DefaultLeague)
	assertEqual(t, "archive.backend", cfg.Archive.Backend, ArchiveNone)
	if cfg.Supervisor.MaxListeners != 20 {
		t.Errorf("max_listeners = %d, want 20", cfg.Supervisor.MaxListeners)
	}
	if len(cfg.Desired()) != 0 {
		t.Error("empty config has no searches")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad stream scheme", "endpoints:\n  stream: https://example.com/live\n", "endpoints.stream"},
		{"missing query", "groups:\n  - name: g\n    searches:\n      - name: nothing\n", "query is required"},
		{"too many listeners", "supervisor:\n  max_listeners: 21\n", "max_listeners"},
		{"batch too large", "fetch:\n  batch_size: 11\n", "batch_size"},
		{"unknown proxy pool", "proxy:\n  stream: nowhere\n", "unknown pool"},
		{"adapter without url", "adapter:\n  type: webhook\n", "adapter.url"},
		{"unknown adapter", "adapter:\n  type: kafka\n  url: x\n", "adapter.type"},
		{"archive without path", "archive:\n  backend: fs\n", "archive.path"},
		{"unknown archive", "archive:\n  backend: gcs\n", "archive.backend"},
		{"bad log level", "log:\n  level: chatty\n", "log.level"},
		{"safe fraction above one", "rate_limit:\n  safe_fraction: 1.5\n", "safe_fraction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			cfg.ApplyDefaults()
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	var b strings.Builder
	b.WriteString("groups:\n  - name: g\n    searches:\n")
	for i := range 22 {
		b.WriteString("      - query: q")
		b.WriteString(string(rune('a' + i)))
		b.WriteString("\n")
	}
	b.WriteString("      - query: qa\n")

	cfg, err := Parse([]byte(b.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.ApplyDefaults()

	warnings := strings.Join(cfg.Warnings(), "\n")
	for _, want := range []string{"account.session is empty", "1 duplicate searches", "2 searches exceed"} {
		if !strings.Contains(warnings, want) {
			t.Errorf("warnings missing %q:\n%s", want, warnings)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("/nonexistent/livewatch.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeTemp(t, "{{invalid yaml")); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if _, err := Load(writeTemp(t, "sesion: typo\n")); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := Load(writeTemp(t, "supervisor:\n  interval: soon\n")); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestProxyPools_SortedByName(t *testing.T) {
	cfg := &Config{
		Proxies: map[string]ProxyPoolConfig{
			"beta":  {Strategy: types.ProxyStrategyRandom},
			"alpha": {Strategy: types.ProxyStrategyRoundRobin},
		},
	}
	pools := cfg.ProxyPools()
	if len(pools) != 2 || pools[0].Name != "alpha" || pools[1].Name != "beta" {
		t.Fatalf("pools = %+v", pools)
	}
	if (&Config{}).ProxyPools() != nil {
		t.Error("no proxies should yield nil")
	}
}
