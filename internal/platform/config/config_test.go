package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HEARTHSIDE_FIRESTORE_PROJECT_ID", "demo-project")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("unexpected port %q", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("unexpected read timeout %v", cfg.Server.ReadTimeout)
	}
	if cfg.Pricing.Currency != "USD" {
		t.Fatalf("unexpected currency %q", cfg.Pricing.Currency)
	}
	if cfg.Pricing.FreeShippingThreshold != 10000 {
		t.Fatalf("unexpected free shipping threshold %d", cfg.Pricing.FreeShippingThreshold)
	}
	if cfg.Orders.NumberPrefix != "HS" {
		t.Fatalf("unexpected order prefix %q", cfg.Orders.NumberPrefix)
	}
	if cfg.Orders.PaymentTermDays != 14 {
		t.Fatalf("unexpected payment term %d", cfg.Orders.PaymentTermDays)
	}
}

func TestLoad_EnvOverridesAndFallbacks(t *testing.T) {
	t.Setenv("HEARTHSIDE_FIRESTORE_PROJECT_ID", "demo-project")
	t.Setenv("HEARTHSIDE_PRICING_CURRENCY", "eur")
	t.Setenv("HEARTHSIDE_ORDERS_NUMBER_PREFIX", "hw")
	t.Setenv("HEARTHSIDE_PUBSUB_ORDER_TOPIC", "order-events")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Pricing.Currency != "EUR" {
		t.Fatalf("currency not upper-cased: %q", cfg.Pricing.Currency)
	}
	if cfg.Orders.NumberPrefix != "HW" {
		t.Fatalf("prefix not upper-cased: %q", cfg.Orders.NumberPrefix)
	}
	if cfg.PubSub.OrderTopic != "order-events" {
		t.Fatalf("unexpected topic %q", cfg.PubSub.OrderTopic)
	}
	if cfg.PubSub.ProjectID != "demo-project" {
		t.Fatalf("pubsub project should fall back to firestore project, got %q", cfg.PubSub.ProjectID)
	}
	if cfg.Firebase.ProjectID != "demo-project" {
		t.Fatalf("firebase project should fall back to firestore project, got %q", cfg.Firebase.ProjectID)
	}
}

func TestLoad_MissingProject(t *testing.T) {
	t.Setenv("HEARTHSIDE_FIRESTORE_PROJECT_ID", "")
	t.Setenv("HEARTHSIDE_FIRESTORE_EMULATOR_HOST", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError got %T", err)
	}
	if len(verr.Fields()) == 0 {
		t.Fatalf("expected missing fields listed")
	}
}
