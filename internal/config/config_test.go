package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_ENV", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "PBKDF2_ITERATIONS",
	"MAX_LOGIN_ATTEMPTS", "INACTIVITY_TIMEOUT", "RECOVERY_CODE_TTL", "RECOVERY_CODE_DISPLAY",
	"ATTEMPT_STORE", "REDIS_URL", "LOCKOUT_TTL", "MAX_WITHDRAWAL", "MAX_DEPOSIT",
	"LIMIT_POLICY_FILE", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
	"KAFKA_BROKERS", "AUDIT_KAFKA_TOPIC", "AUDIT_AMQP_URL", "AUDIT_AMQP_EXCHANGE", "LOKI_URL",
	"HEALTH_ADDR", "HEALTH_CHECK_SCHEDULE", "LOG_LEVEL", "LOG_FORMAT",
}

// cleanEnv blanks every key so the host environment cannot leak into a test.
// Viper treats empty variables as unset.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDriver != StoreSQLite || cfg.SQLitePath != "./data/atm.db" {
		t.Errorf("store = %q %q", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.PBKDF2Iterations != 600_000 {
		t.Errorf("PBKDF2Iterations = %d, want 600000", cfg.PBKDF2Iterations)
	}
	if cfg.MaxLoginAttempts != 3 {
		t.Errorf("MaxLoginAttempts = %d, want 3", cfg.MaxLoginAttempts)
	}
	if cfg.Inactivity() != 2*time.Minute {
		t.Errorf("Inactivity = %v, want 2m", cfg.Inactivity())
	}
	if cfg.RecoveryTTL() != 5*time.Minute {
		t.Errorf("RecoveryTTL = %v, want 5m", cfg.RecoveryTTL())
	}
	if !cfg.RecoveryCodeDisplay {
		t.Error("RecoveryCodeDisplay should default to true outside production")
	}
	if cfg.AttemptStore != AttemptMemory || cfg.LockoutExpiry() != 0 {
		t.Errorf("attempt store = %q, lockout = %v", cfg.AttemptStore, cfg.LockoutExpiry())
	}
	if cfg.AuditKafkaTopic != "atm-audit" || cfg.KafkaBrokersList() != nil {
		t.Errorf("kafka = %q %v", cfg.AuditKafkaTopic, cfg.KafkaBrokersList())
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log = %q %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AuditAMQPURL != "" || cfg.AuditAMQPExchange != "atm.audit" {
		t.Errorf("amqp = %q %q", cfg.AuditAMQPURL, cfg.AuditAMQPExchange)
	}
	if cfg.HealthAddr != "" || cfg.HealthCheckSchedule != "" {
		t.Errorf("health = %q %q", cfg.HealthAddr, cfg.HealthCheckSchedule)
	}
	if w, _ := cfg.WithdrawalLimit(); w != 0 {
		t.Errorf("WithdrawalLimit = %d, want 0", w)
	}
	if cfg.StoreDSN() != "./data/atm.db" {
		t.Errorf("StoreDSN = %q", cfg.StoreDSN())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	cleanEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://atm@localhost/atm")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "5")
	t.Setenv("MAX_WITHDRAWAL", "500.00")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDSN() != "postgres://atm@localhost/atm" {
		t.Errorf("StoreDSN = %q", cfg.StoreDSN())
	}
	if cfg.MaxLoginAttempts != 5 {
		t.Errorf("MaxLoginAttempts = %d, want 5", cfg.MaxLoginAttempts)
	}
	if w, err := cfg.WithdrawalLimit(); err != nil || w != 50000 {
		t.Errorf("WithdrawalLimit = %d, %v; want 50000", w, err)
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "k1:9092" || brokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokersList = %v", brokers)
	}
}

func TestLoad_WithEnvFile(t *testing.T) {
	cleanEnv(t)
	dir, _ := os.Getwd()
	content := "INACTIVITY_TIMEOUT=45s\nLOG_FORMAT=json\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Inactivity() != 45*time.Second {
		t.Errorf("Inactivity = %v, want 45s from .env", cfg.Inactivity())
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, env should override .env", cfg.LogFormat)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_DRIVER": "mysql"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"redis without url", map[string]string{"ATTEMPT_STORE": "redis"}},
		{"unknown attempt store", map[string]string{"ATTEMPT_STORE": "etcd"}},
		{"weak pbkdf2", map[string]string{"PBKDF2_ITERATIONS": "1000"}},
		{"zero attempts", map[string]string{"MAX_LOGIN_ATTEMPTS": "0"}},
		{"display in production", map[string]string{"APP_ENV": "production"}},
		{"bad withdrawal limit", map[string]string{"MAX_WITHDRAWAL": "lots"}},
		{"bad deposit limit", map[string]string{"MAX_DEPOSIT": "-5"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load should fail")
			}
		})
	}
}

func TestLoad_ProductionWithoutDisplay(t *testing.T) {
	cleanEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("RECOVERY_CODE_DISPLAY", "false")
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestDurations_FallBack(t *testing.T) {
	c := &Config{InactivityTimeout: "soon", RecoveryCodeTTL: "-1m", LockoutTTL: "bad"}
	if c.Inactivity() != 2*time.Minute {
		t.Errorf("Inactivity = %v", c.Inactivity())
	}
	if c.RecoveryTTL() != 5*time.Minute {
		t.Errorf("RecoveryTTL = %v", c.RecoveryTTL())
	}
	if c.LockoutExpiry() != 0 {
		t.Errorf("LockoutExpiry = %v", c.LockoutExpiry())
	}
	c.LockoutTTL = "15m"
	if c.LockoutExpiry() != 15*time.Minute {
		t.Errorf("LockoutExpiry = %v", c.LockoutExpiry())
	}
}
