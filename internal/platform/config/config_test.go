package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID": "stonemart-test",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "stonemart-test" {
		t.Errorf("expected firestore project to default to firebase project, got %q", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "stonemart-test" {
		t.Errorf("expected pubsub project to default to firebase project, got %q", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != "storefront-order-events" {
		t.Errorf("unexpected order events topic %q", cfg.PubSub.OrderEventsTopic)
	}
	if !cfg.PubSub.Enabled {
		t.Error("expected pubsub to be enabled by default")
	}
	if cfg.Payments.SignatureHeader != "X-Payment-Signature" {
		t.Errorf("unexpected signature header %q", cfg.Payments.SignatureHeader)
	}
	if cfg.Payments.ClockSkew != 5*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Payments.ClockSkew)
	}
	if cfg.Reviews.MaxImages != 6 {
		t.Errorf("unexpected review image limit %d", cfg.Reviews.MaxImages)
	}
}

func TestLoadEnvMapOverrides(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID":            "stonemart-test",
			"API_SERVER_PORT":                    "9090",
			"API_SERVER_READ_TIMEOUT":            "5s",
			"API_FIRESTORE_PROJECT_ID":           "stonemart-db",
			"API_FIRESTORE_EMULATOR_HOST":        "localhost:8200",
			"API_PUBSUB_ENABLED":                 "false",
			"API_ORDERS_TAX_RATE_BPS":            "750",
			"API_ORDERS_FREE_SHIPPING_THRESHOLD": "50000",
			"API_ORDERS_SHIPPING_FLAT_FEE":       "1500",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("expected read timeout 5s, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "stonemart-db" {
		t.Errorf("expected dedicated firestore project, got %q", cfg.Firestore.ProjectID)
	}
	if cfg.Firestore.EmulatorHost != "localhost:8200" {
		t.Errorf("unexpected emulator host %q", cfg.Firestore.EmulatorHost)
	}
	if cfg.PubSub.Enabled {
		t.Error("expected pubsub to be disabled")
	}
	if cfg.Orders.TaxRateBasisPoints != 750 {
		t.Errorf("unexpected tax rate %d", cfg.Orders.TaxRateBasisPoints)
	}
	if cfg.Orders.FreeShippingThreshold != 50000 {
		t.Errorf("unexpected free shipping threshold %d", cfg.Orders.FreeShippingThreshold)
	}
	if cfg.Orders.ShippingFlatFee != 1500 {
		t.Errorf("unexpected shipping fee %d", cfg.Orders.ShippingFlatFee)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport API_FIREBASE_PROJECT_ID=stonemart-local\nAPI_SERVER_PORT=\"8181\"\nAPI_PAYMENTS_WEBHOOK_SECRET='hush'\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firebase.ProjectID != "stonemart-local" {
		t.Errorf("expected project from dotenv, got %q", cfg.Firebase.ProjectID)
	}
	if cfg.Server.Port != "8181" {
		t.Errorf("expected quoted port value parsed, got %q", cfg.Server.Port)
	}
	if cfg.Payments.WebhookSecret != "hush" {
		t.Errorf("expected single-quoted secret parsed, got %q", cfg.Payments.WebhookSecret)
	}
}

func TestLoadEnvMapWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("API_SERVER_PORT=7000\nAPI_FIREBASE_PROJECT_ID=file-project\n"), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(envPath),
		WithEnvMap(map[string]string{"API_SERVER_PORT": "7100"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7100" {
		t.Errorf("expected env map to take precedence, got %q", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "file-project" {
		t.Errorf("expected dotenv value retained, got %q", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingProject(t *testing.T) {
	_, err := Load(WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	fields := validationErr.Fields()
	found := false
	for _, field := range fields {
		if field == "Firebase.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Firebase.ProjectID in missing fields, got %v", fields)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID":  "stonemart-test",
			"API_ORDERS_TAX_RATE_BPS":  "not-a-number",
			"API_SERVER_WRITE_TIMEOUT": "soon",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Orders.TaxRateBasisPoints != 0 {
		t.Errorf("expected fallback tax rate, got %d", cfg.Orders.TaxRateBasisPoints)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("expected fallback write timeout, got %s", cfg.Server.WriteTimeout)
	}
}
