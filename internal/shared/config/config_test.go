package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("RECORD_STORE", "")
	t.Setenv("DATABASE_URL", "")

	cfg := Load()
	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.RecordStore != "file" {
		t.Fatalf("expected file record store, got %q", cfg.RecordStore)
	}
	if cfg.BlobStore != "none" {
		t.Fatalf("expected no blob store, got %q", cfg.BlobStore)
	}
	if cfg.OracleProvider != "placeholder" {
		t.Fatalf("expected placeholder oracle, got %q", cfg.OracleProvider)
	}
	if cfg.OracleTimeout != 60*time.Second {
		t.Fatalf("unexpected oracle timeout %s", cfg.OracleTimeout)
	}
	if cfg.OTPMode != "placeholder" {
		t.Fatalf("expected placeholder otp mode, got %q", cfg.OTPMode)
	}
	if cfg.SQSVisibilityTimeout != 300*time.Second || cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("unexpected worker timeouts %s, %s", cfg.SQSVisibilityTimeout, cfg.ShutdownTimeout)
	}
}

func TestLoadWorkerTimeouts(t *testing.T) {
	t.Setenv("SQS_VISIBILITY_TIMEOUT_SECONDS", "120")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "-1")

	cfg := Load()
	if cfg.SQSVisibilityTimeout != 120*time.Second {
		t.Fatalf("unexpected visibility timeout %s", cfg.SQSVisibilityTimeout)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("expected shutdown timeout fallback, got %s", cfg.ShutdownTimeout)
	}
}

func TestValidateRejectsQueueWithProcessLocalStore(t *testing.T) {
	cases := []struct {
		store, queue string
		wantErr      bool
	}{
		{"file", "https://sqs.example/q", true},
		{"memory", "https://sqs.example/q", true},
		{"postgres", "https://sqs.example/q", false},
		{"firestore", "https://sqs.example/q", false},
		{"file", "", false},
	}
	for _, tc := range cases {
		err := Config{RecordStore: tc.store, SQSQueueURL: tc.queue}.Validate()
		if tc.wantErr != errors.Is(err, ErrProcessLocalRecords) {
			t.Errorf("Validate(%s, %q) = %v, wantErr %v", tc.store, tc.queue, err, tc.wantErr)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("DATABASE_URL", "postgres://localhost/verisure")
	t.Setenv("RECORD_STORE", "")
	t.Setenv("BLOB_STORE", "Azure")
	t.Setenv("ORACLE_PROVIDER", "gemini")
	t.Setenv("ORACLE_TIMEOUT", "15s")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("WORKER_CONCURRENCY", "0")

	cfg := Load()
	if cfg.Env != "production" {
		t.Fatalf("expected production, got %q", cfg.Env)
	}
	if cfg.RecordStore != "postgres" {
		t.Fatalf("expected postgres inferred from DATABASE_URL, got %q", cfg.RecordStore)
	}
	if cfg.BlobStore != "azblob" {
		t.Fatalf("expected azblob, got %q", cfg.BlobStore)
	}
	if cfg.OracleProvider != "vertex" {
		t.Fatalf("expected vertex, got %q", cfg.OracleProvider)
	}
	if cfg.OracleTimeout != 15*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.OracleTimeout)
	}
	if len(cfg.CORSAllowOrigin) != 2 || cfg.CORSAllowOrigin[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowOrigin)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected worker concurrency fallback, got %d", cfg.WorkerConcurrency)
	}
}

func TestNormalizeRecordStore(t *testing.T) {
	cases := []struct {
		raw, dbURL, want string
	}{
		{"memory", "", "memory"},
		{"LOCAL", "", "file"},
		{"pg", "", "postgres"},
		{"firestore", "postgres://x", "firestore"},
		{"", "postgres://x", "postgres"},
		{"bogus", "", "file"},
	}
	for _, tc := range cases {
		if got := normalizeRecordStore(tc.raw, tc.dbURL); got != tc.want {
			t.Errorf("normalizeRecordStore(%q, %q) = %q, want %q", tc.raw, tc.dbURL, got, tc.want)
		}
	}
}
