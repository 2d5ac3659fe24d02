package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// useConfigFile writes yamlContent to config.yaml in a temp directory and
// changes into it so Load() finds the file.
func useConfigFile(t *testing.T, yamlContent string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	// Clear env vars that might interfere with tests
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "LOG_LEVEL", "PGHOST", "PGSCHEMA",
		"CACHE_TABLE_STATS", "CACHE_RESET_INTERVAL_SECONDS",
		"ENGINE_INSERT_BATCH_SIZE", "ENGINE_DEFAULT_LIMIT", "ENGINE_PER_BATCH_COMMIT", "ENGINE_INSPECT_WHERE",
		"REDIS_HOST", "REDIS_RESET_CHANNEL", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		os.Unsetenv(key)
	}

	return tmpDir
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	useConfigFile(t, `
port: "3000"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
cache:
  reset_interval_seconds: 60
`)

	// Set env vars to override YAML values
	t.Setenv("PORT", "4000")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("CACHE_RESET_INTERVAL_SECONDS", "15")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify env vars override YAML
	if cfg.Port != "4000" {
		t.Errorf("expected Port=4000 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Cache.ResetIntervalSeconds != 15 {
		t.Errorf("expected ResetIntervalSeconds=15 (from env), got %d", cfg.Cache.ResetIntervalSeconds)
	}

	// Verify version was set
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}

	// Verify YAML value used for database host (proves YAML was read)
	if !IsRunningInDocker() && cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Database.User != "testuser" {
		t.Errorf("expected Database.User=testuser (from yaml), got %s", cfg.Database.User)
	}
}

func TestLoad_Defaults(t *testing.T) {
	useConfigFile(t, `
env: "test"
`)

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ListenAddr() != "127.0.0.1:3000" {
		t.Errorf("expected ListenAddr=127.0.0.1:3000, got %s", cfg.ListenAddr())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %s", cfg.LogLevel)
	}
	if cfg.Database.Schema != "public" {
		t.Errorf("expected Database.Schema=public, got %s", cfg.Database.Schema)
	}
	if cfg.Cache.Enabled {
		t.Error("expected cache to be disabled by default")
	}
	if cfg.Cache.ResetIntervalSeconds != 0 {
		t.Errorf("expected no reset timer by default, got %d", cfg.Cache.ResetIntervalSeconds)
	}
	if cfg.Engine.InsertBatchSize != 100 {
		t.Errorf("expected InsertBatchSize=100, got %d", cfg.Engine.InsertBatchSize)
	}
	if cfg.Engine.DefaultLimit != 10000 {
		t.Errorf("expected DefaultLimit=10000, got %d", cfg.Engine.DefaultLimit)
	}
	if cfg.Engine.PerBatchCommit {
		t.Error("expected one transaction per insert request by default")
	}
	if cfg.Engine.InspectWhere {
		t.Error("expected where inspection to be off by default")
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected Redis to be disabled by default, got host %q", cfg.Redis.Host)
	}
	if cfg.Redis.ResetChannel != "ekaya-rest:table-stats:reset" {
		t.Errorf("unexpected default reset channel %q", cfg.Redis.ResetChannel)
	}
}

func TestLoad_EngineFromYAML(t *testing.T) {
	useConfigFile(t, `
engine:
  insert_batch_size: 2
  default_limit: 50
  per_batch_commit: true
  inspect_where: true
cache:
  enabled: true
redis:
  host: "redis.example.com"
  reset_channel: "custom"
`)

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Engine.InsertBatchSize != 2 {
		t.Errorf("expected InsertBatchSize=2, got %d", cfg.Engine.InsertBatchSize)
	}
	if cfg.Engine.DefaultLimit != 50 {
		t.Errorf("expected DefaultLimit=50, got %d", cfg.Engine.DefaultLimit)
	}
	if !cfg.Engine.PerBatchCommit {
		t.Error("expected PerBatchCommit=true from yaml")
	}
	if !cfg.Cache.Enabled {
		t.Error("expected Cache.Enabled=true from yaml")
	}
	if !cfg.Engine.InspectWhere {
		t.Error("expected InspectWhere=true from yaml")
	}
	if cfg.Redis.Addr() != "redis.example.com:6379" {
		t.Errorf("expected Redis addr redis.example.com:6379, got %s", cfg.Redis.Addr())
	}
	if cfg.Redis.ResetChannel != "custom" {
		t.Errorf("expected ResetChannel=custom, got %s", cfg.Redis.ResetChannel)
	}
}

func TestLoad_InvalidEngine(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative batch size", "engine:\n  insert_batch_size: -5\n", "insert_batch_size"},
		{"negative default limit", "engine:\n  default_limit: -1\n", "default_limit"},
		{"negative rate limit", "rate_limit_rps: -1\n", "rate_limit_rps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useConfigFile(t, tt.yaml)

			_, err := Load("test-version")
			if err == nil {
				t.Fatal("expected error for invalid engine config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	_, err = Load("test-version")
	if err == nil {
		t.Error("expected error when config.yaml is missing")
	}
}

func TestValidateTLS_BothProvided(t *testing.T) {
	certDir := t.TempDir()
	certPath := filepath.Join(certDir, "test-cert.pem")
	keyPath := filepath.Join(certDir, "test-key.pem")

	// Create dummy cert and key files
	if err := os.WriteFile(certPath, []byte("fake-cert-content"), 0644); err != nil {
		t.Fatalf("failed to write test cert: %v", err)
	}
	if err := os.WriteFile(keyPath, []byte("fake-key-content"), 0644); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}

	useConfigFile(t, fmt.Sprintf(`
tls_cert_path: "%s"
tls_key_path: "%s"
`, certPath, keyPath))

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.TLSCertPath != certPath {
		t.Errorf("expected TLSCertPath=%s, got %s", certPath, cfg.TLSCertPath)
	}
	if cfg.TLSKeyPath != keyPath {
		t.Errorf("expected TLSKeyPath=%s, got %s", keyPath, cfg.TLSKeyPath)
	}
}

func TestValidateTLS_OnlyCertProvided(t *testing.T) {
	certDir := t.TempDir()
	certPath := filepath.Join(certDir, "test-cert.pem")
	if err := os.WriteFile(certPath, []byte("fake-cert-content"), 0644); err != nil {
		t.Fatalf("failed to write test cert: %v", err)
	}

	useConfigFile(t, fmt.Sprintf(`
tls_cert_path: "%s"
`, certPath))

	_, err := Load("test-version")
	if err == nil {
		t.Fatal("expected error when only tls_cert_path is provided")
	}
	if !strings.Contains(err.Error(), "must be provided together") {
		t.Errorf("expected 'must be provided together' error, got: %v", err)
	}
}

func TestValidateTLS_CertFileNotFound(t *testing.T) {
	certDir := t.TempDir()
	keyPath := filepath.Join(certDir, "test-key.pem")
	if err := os.WriteFile(keyPath, []byte("fake-key-content"), 0644); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}

	useConfigFile(t, fmt.Sprintf(`
tls_cert_path: "%s"
tls_key_path: "%s"
`, filepath.Join(certDir, "missing.pem"), keyPath))

	_, err := Load("test-version")
	if err == nil {
		t.Fatal("expected error when cert file does not exist")
	}
	if !strings.Contains(err.Error(), "TLS cert file does not exist") {
		t.Errorf("expected 'TLS cert file does not exist' error, got: %v", err)
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "api",
		Password: "secret",
		Database: "shop",
		SSLMode:  "require",
	}

	want := "host=db port=5433 user=api password=secret dbname=shop sslmode=require"
	if got := cfg.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}

func TestLoad_RateLimit(t *testing.T) {
	useConfigFile(t, `
rate_limit_rps: 2.5
rate_limit_burst: 10
`)

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("expected RateLimitRPS=2.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst != 10 {
		t.Errorf("expected RateLimitBurst=10, got %d", cfg.RateLimitBurst)
	}
}

func TestConfig_SecretsNotSerialized(t *testing.T) {
	useConfigFile(t, "env: test\n")
	t.Setenv("PGPASSWORD", "pg-secret")
	t.Setenv("REDIS_PASSWORD", "redis-secret")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.Password != "pg-secret" || cfg.Redis.Password != "redis-secret" {
		t.Fatal("expected passwords to be read from the environment")
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal failed: %v", err)
	}
	if strings.Contains(string(out), "secret") {
		t.Errorf("serialized config leaks a password:\n%s", out)
	}

	// A password placed in the file is ignored.
	useConfigFile(t, "database:\n  password: from-file\n")
	t.Setenv("PGPASSWORD", "")
	cfg, err = Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.Password != "" {
		t.Errorf("expected password from yaml to be ignored, got %q", cfg.Database.Password)
	}
}
