// Package adapter implements the ToolchainAdapter capability: driving an
// external agent subprocess inside a workcell and emitting a PatchProof.
package adapter

import (
	"context"
	"time"

	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
)

// CostEstimate is the pure, network-free cost projection for a manifest.
type CostEstimate struct {
	EstimatedTokens int
	EstimatedCostUSD float64
	Model           string
}

// Adapter is any value exposing the capability set a toolchain needs.
type Adapter interface {
	Name() string
	Available() bool
	HealthCheck(ctx context.Context) bool
	EstimateCost(m *manifest.Manifest) CostEstimate
	Execute(ctx context.Context, m *manifest.Manifest, workcellPath string, timeout time.Duration) proof.PatchProof
}

// Registry resolves adapters by the string named in toolchain_config.toolchain.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
