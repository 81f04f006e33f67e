package target

import (
	"errors"
	"strings"
	"testing"

	"github.com/certhook/certhook/pkg/config"
	"github.com/certhook/certhook/pkg/filter"
	"github.com/certhook/certhook/pkg/model"
)

func knownProviders(providerType string) bool {
	return providerType == "static" || providerType == "kubernetes"
}

func validConfig() config.TargetConfig {
	return config.TargetConfig{
		Name:           "certification-pipeline",
		AcceptedEvents: []string{"pull_request"},
		Repository:     "org/repo",
		Callback:       config.CallbackConfig{Type: "http", URL: "http://pipelines.internal/trigger"},
		Capacity: config.CapacityConfig{
			ProviderType:  "static",
			ResourceName:  "cert-pipeline",
			Namespace:     "pipelines",
			MaxConcurrent: 2,
		},
	}
}

func TestLoadValidTarget(t *testing.T) {
	targets, err := Load([]config.TargetConfig{validConfig()}, knownProviders)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
	if !targets[0].Filter.IsMatchAll() {
		t.Fatal("expected match-all filter for empty expression")
	}
}

func TestLoadRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.TargetConfig)
	}{
		{"empty name", func(c *config.TargetConfig) { c.Name = "" }},
		{"no accepted events", func(c *config.TargetConfig) { c.AcceptedEvents = nil }},
		{"empty repository", func(c *config.TargetConfig) { c.Repository = "" }},
		{"zero max_concurrent", func(c *config.TargetConfig) { c.Capacity.MaxConcurrent = 0 }},
		{"negative max_concurrent", func(c *config.TargetConfig) { c.Capacity.MaxConcurrent = -1 }},
		{"empty resource name", func(c *config.TargetConfig) { c.Capacity.ResourceName = "" }},
		{"unknown provider", func(c *config.TargetConfig) { c.Capacity.ProviderType = "nomad" }},
		{"unknown callback type", func(c *config.TargetConfig) { c.Callback.Type = "smtp" }},
		{"http callback without url", func(c *config.TargetConfig) { c.Callback.URL = "" }},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)
		_, err := Load([]config.TargetConfig{cfg}, knownProviders)
		if err == nil {
			t.Errorf("%s: expected load error", tc.name)
			continue
		}
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("%s: expected ErrInvalidTarget, got %v", tc.name, err)
		}
	}
}

func TestLoadRejectsKafkaCallbackWithoutTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Callback = config.CallbackConfig{Type: "kafka"}
	if _, err := Load([]config.TargetConfig{cfg}, knownProviders); err == nil {
		t.Fatal("expected load error for kafka callback without topic")
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	_, err := Load([]config.TargetConfig{validConfig(), validConfig()}, knownProviders)
	if err == nil {
		t.Fatal("expected load error for duplicate target names")
	}
}

func TestLoadCompileFailureNamesTarget(t *testing.T) {
	cfg := validConfig()
	cfg.CELExpression = `body.action = push`

	_, err := Load([]config.TargetConfig{cfg}, knownProviders)
	if err == nil {
		t.Fatal("expected load error for invalid filter expression")
	}
	if !errors.Is(err, filter.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if !strings.Contains(err.Error(), "certification-pipeline") {
		t.Fatalf("expected error to name the target, got %q", err.Error())
	}
}

func TestMatches(t *testing.T) {
	cfg := validConfig()
	cfg.CELExpression = `body.action == "opened"`
	targets, err := Load([]config.TargetConfig{cfg}, knownProviders)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	tgt := targets[0]

	event := &model.WebhookEvent{
		EventType:  "pull_request",
		Repository: "org/repo",
		Payload:    model.JSONB{"action": "opened"},
	}
	if !tgt.Matches(event) {
		t.Fatal("expected matching event to match")
	}

	wrongRepo := *event
	wrongRepo.Repository = "org/other"
	if tgt.Matches(&wrongRepo) {
		t.Fatal("expected repository mismatch to fail")
	}

	wrongType := *event
	wrongType.EventType = "release"
	if tgt.Matches(&wrongType) {
		t.Fatal("expected event type mismatch to fail")
	}

	wrongAction := *event
	wrongAction.Payload = model.JSONB{"action": "closed"}
	if tgt.Matches(&wrongAction) {
		t.Fatal("expected filter mismatch to fail")
	}
}

func TestMatchReturnsAllMatchingTargets(t *testing.T) {
	first := validConfig()
	second := validConfig()
	second.Name = "second-pipeline"
	second.CELExpression = `body.action == "closed"`

	targets, err := Load([]config.TargetConfig{first, second}, knownProviders)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	event := &model.WebhookEvent{
		EventType:  "pull_request",
		Repository: "org/repo",
		Payload:    model.JSONB{"action": "opened"},
	}
	matched := Match(targets, event)
	if len(matched) != 1 || matched[0].Name != "certification-pipeline" {
		t.Fatalf("expected only the unfiltered target to match, got %d", len(matched))
	}
}
