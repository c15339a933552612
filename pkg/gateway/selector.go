package gateway

import (
	"sort"

	"github.com/arcanabot/llm-gateway/pkg/provider"
)

// heavyProvider is tried first for generation types that produce long
// analytical output, when it is available.
const heavyProvider = provider.Anthropic

// selector orders provider candidates for one request from health state
// and the request's shape.
type selector struct {
	health    *HealthTracker
	providers []provider.Provider
}

// candidates returns the ordered list of providers to try. The preferred
// provider goes first when set and available; the rest are ordered by the
// heavy-task rule, then error rate, then latency. When nothing is
// available it returns ErrAllProvidersUnavailable.
func (s *selector) candidates(req provider.Request) ([]provider.Provider, error) {
	available := make([]provider.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if s.health.IsAvailable(p.ID()) {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return nil, ErrAllProvidersUnavailable
	}

	sort.SliceStable(available, func(i, j int) bool {
		return s.less(req, available[i].ID(), available[j].ID())
	})

	if req.Preferred != "" {
		for i, p := range available {
			if p.ID() == req.Preferred {
				available = append([]provider.Provider{p}, append(available[:i:i], available[i+1:]...)...)
				break
			}
		}
	}
	return available, nil
}

func (s *selector) less(req provider.Request, a, b string) bool {
	if req.Type.Heavy() {
		if a == heavyProvider && b != heavyProvider {
			return true
		}
		if b == heavyProvider && a != heavyProvider {
			return false
		}
	}

	ea, eb := s.health.ErrorRate(a), s.health.ErrorRate(b)
	if ea != eb {
		return ea < eb
	}
	return s.health.AvgLatency(a) < s.health.AvgLatency(b)
}
