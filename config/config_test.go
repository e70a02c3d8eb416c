package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `atmflow:
  name: "TestApp"
  version: "1.0"
trackers:
  - name: nifty_oi
    variant: oi
`

// writeTempConfig writes content to a temporary config file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ATMFlow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.ATMFlow.Name)
	}
	if cfg.Scheduler.Interval != time.Minute || cfg.Scheduler.FetchTimeout != 10*time.Second {
		t.Errorf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Storage.Backend != BackendFile || cfg.Storage.File.Dir != "data" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}

	tr := cfg.Trackers[0]
	if tr.WindowSize != 5 || tr.StrikeStep != 50 {
		t.Errorf("unexpected window defaults: size=%d step=%d", tr.WindowSize, tr.StrikeStep)
	}
	if tr.Layout != LayoutDaily || tr.Prefix != "nifty_oi" || tr.SpotSource != SpotUnderlying {
		t.Errorf("unexpected tracker defaults: %+v", tr)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOG_LEVEL", "debug")

	content := minimalConfig + `storage:
  backend: redis
kafka:
  enabled: true
`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.Redis.Addr != "redis:6379" {
		t.Errorf("redis addr = %q", cfg.Storage.Redis.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("kafka brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"no trackers", "atmflow:\n  name: x\n", "at least one tracker"},
		{"duplicate", minimalConfig + "  - name: nifty_oi\n    variant: premium\n", "duplicated"},
		{"bad variant", "trackers:\n  - name: a\n    variant: gamma\n", "variant"},
		{"momentum rolling", "trackers:\n  - name: m\n    variant: momentum\n    layout: rolling\n", "daily layout"},
		{"index without name", "trackers:\n  - name: a\n    variant: oi\n    spot_source: index\n", "index_name"},
		{"bad hours", "trackers:\n  - name: a\n    variant: oi\n    hours:\n      start: \"9:15\"\n", "hours.start"},
		{"inverted hours", "trackers:\n  - name: a\n    variant: oi\n    hours:\n      start: \"15:00\"\n      end: \"09:00\"\n", "before"},
		{"bad backend", minimalConfig + "storage:\n  backend: ftp\n", "storage.backend"},
		{"bad bucket", minimalConfig + "storage:\n  backend: s3\n  s3:\n    bucket: Bad_Bucket\n    region: eu-west-1\n", "invalid"},
		{"unknown source", minimalConfig + "source:\n  primary: cboe\n", "not supported"},
	}
	for _, c := range cases {
		_, err := LoadConfig(writeTempConfig(t, c.content))
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: error %q does not mention %q", c.name, err, c.want)
		}
	}
}

func TestProductionForcesJSONLogs(t *testing.T) {
	t.Setenv("APP_ENV", "stage")
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig+"logging:\n  format: text\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Logging.Format)
	}
}

func TestParseClock(t *testing.T) {
	if m, err := ParseClock("09:15"); err != nil || m != 555 {
		t.Fatalf("ParseClock(09:15) = %d, %v", m, err)
	}
	for _, bad := range []string{"24:00", "9:15", "09:60", "0915"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q) should fail", bad)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath(""); got != filepath.ToSlash("config/config.production.yml") {
		t.Errorf("ResolvePath = %q", got)
	}
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path overridden: %q", got)
	}
	t.Setenv("APP_ENV", "")
	if got := ResolvePath(""); got != defaultConfigPath {
		t.Errorf("ResolvePath default = %q", got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
