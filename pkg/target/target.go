// Package target holds the validated, immutable routing rules the dispatch
// engine matches events against. Targets are built once at startup; a bad
// target aborts the whole load so operators get a single clear diagnostic.
package target

import (
	"errors"
	"fmt"

	"github.com/certhook/certhook/pkg/config"
	"github.com/certhook/certhook/pkg/filter"
	"github.com/certhook/certhook/pkg/model"
)

const (
	CallbackHTTP  = "http"
	CallbackKafka = "kafka"
)

var ErrInvalidTarget = errors.New("invalid dispatch target")

type Capacity struct {
	ProviderType  string
	ResourceName  string
	Namespace     string
	MaxConcurrent int
}

type Callback struct {
	Type  string
	URL   string
	Topic string
}

type Target struct {
	Name           string
	AcceptedEvents []string
	Repository     string
	Callback       Callback
	Capacity       Capacity
	Filter         *filter.Expression
}

// Load validates and compiles the configured targets. knownProviders is the
// set of registered capacity provider types; an unknown type is rejected
// here rather than at first dispatch.
func Load(cfgs []config.TargetConfig, knownProviders func(string) bool) ([]*Target, error) {
	targets := make([]*Target, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))

	for _, raw := range cfgs {
		t, err := build(raw, knownProviders)
		if err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: duplicate target name %q", ErrInvalidTarget, t.Name)
		}
		seen[t.Name] = true
		targets = append(targets, t)
	}

	return targets, nil
}

func build(raw config.TargetConfig, knownProviders func(string) bool) (*Target, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("%w: target name is required", ErrInvalidTarget)
	}
	if len(raw.AcceptedEvents) == 0 {
		return nil, fmt.Errorf("%w: target %q: at least one accepted event type is required", ErrInvalidTarget, raw.Name)
	}
	if raw.Repository == "" {
		return nil, fmt.Errorf("%w: target %q: repository is required", ErrInvalidTarget, raw.Name)
	}
	if raw.Capacity.MaxConcurrent < 1 {
		return nil, fmt.Errorf("%w: target %q: capacity.max_concurrent must be >= 1", ErrInvalidTarget, raw.Name)
	}
	if raw.Capacity.ResourceName == "" {
		return nil, fmt.Errorf("%w: target %q: capacity.resource_name is required", ErrInvalidTarget, raw.Name)
	}
	if knownProviders == nil || !knownProviders(raw.Capacity.ProviderType) {
		return nil, fmt.Errorf("%w: target %q: unknown capacity provider type %q", ErrInvalidTarget, raw.Name, raw.Capacity.ProviderType)
	}

	switch raw.Callback.Type {
	case CallbackHTTP:
		if raw.Callback.URL == "" {
			return nil, fmt.Errorf("%w: target %q: callback.url is required for http callbacks", ErrInvalidTarget, raw.Name)
		}
	case CallbackKafka:
		if raw.Callback.Topic == "" {
			return nil, fmt.Errorf("%w: target %q: callback.topic is required for kafka callbacks", ErrInvalidTarget, raw.Name)
		}
	default:
		return nil, fmt.Errorf("%w: target %q: unknown callback type %q", ErrInvalidTarget, raw.Name, raw.Callback.Type)
	}

	expr, err := filter.Compile(raw.CELExpression)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", raw.Name, err)
	}

	return &Target{
		Name:           raw.Name,
		AcceptedEvents: raw.AcceptedEvents,
		Repository:     raw.Repository,
		Callback: Callback{
			Type:  raw.Callback.Type,
			URL:   raw.Callback.URL,
			Topic: raw.Callback.Topic,
		},
		Capacity: Capacity{
			ProviderType:  raw.Capacity.ProviderType,
			ResourceName:  raw.Capacity.ResourceName,
			Namespace:     raw.Capacity.Namespace,
			MaxConcurrent: raw.Capacity.MaxConcurrent,
		},
		Filter: expr,
	}, nil
}

// Matches reports whether an event is routed to this target: the event type
// must be accepted, the repository must match exactly, and the filter (if
// any) must evaluate true against the payload.
func (t *Target) Matches(event *model.WebhookEvent) bool {
	if event.Repository != t.Repository {
		return false
	}
	accepted := false
	for _, eventType := range t.AcceptedEvents {
		if eventType == event.EventType {
			accepted = true
			break
		}
	}
	if !accepted {
		return false
	}
	return t.Filter.Eval(event.Payload)
}

// Match returns every target routed to for the event, in configuration
// order. Each match is dispatched independently.
func Match(targets []*Target, event *model.WebhookEvent) []*Target {
	var matched []*Target
	for _, t := range targets {
		if t.Matches(event) {
			matched = append(matched, t)
		}
	}
	return matched
}
