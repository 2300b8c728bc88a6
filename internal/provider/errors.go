package provider

import (
	"context"
	"fmt"

	"github.com/littlehelper/littlehelper/internal/fault"
)

var errUpstream = fault.ErrUpstream

// brokenProvider stands in for a provider that could not be built, for
// example because it has no credentials, so failover moves past it.
type brokenProvider struct {
	name string
	err  error
}

func (b *brokenProvider) Name() string { return b.name }

func (b *brokenProvider) Generate(ctx context.Context, msgs []Message) (string, error) {
	return "", b.err
}

func (b *brokenProvider) Stream(ctx context.Context, msgs []Message, tools []Tool, emit func(Chunk) error) error {
	return b.err
}

func unavailable(name string, reason string) *brokenProvider {
	return &brokenProvider{name: name, err: fmt.Errorf("%s unavailable: %s: %w", name, reason, fault.ErrUpstream)}
}
