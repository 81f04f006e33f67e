package capacity

import "context"

const TypeStatic = "static"

// StaticProvider always reports the same utilization. Meant for staging
// setups with no real backend.
type StaticProvider struct {
	value int
}

func NewStaticProvider(value int) *StaticProvider {
	return &StaticProvider{value: value}
}

func (p *StaticProvider) Utilization(ctx context.Context, resource, namespace string) (int, error) {
	return p.value, nil
}
