package core

import (
	"context"
	"sync"
	"time"

	"loremaster/client"
)

// Provider ids.  Declaration order here is the tiebreak order used by
// ListConfigured and RankCandidates: local daemon first, then cloud.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderXAI       = "xai"
)

var providerOrder = []string{
	ProviderOllama,
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGoogle,
	ProviderXAI,
}

// Family is either local or cloud.
type Family string

const (
	FamilyLocal Family = "local"
	FamilyCloud Family = "cloud"
)

// ProviderDescriptor describes one configured or known provider.
type ProviderDescriptor struct {
	ID           string
	Family       Family
	DisplayName  string
	Configured   bool
	Models       []string
	DefaultModel string
}

// Status is the advisory health state of a provider.  It orders
// fallback candidates; it never gates an explicit user request.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnreachable Status = "unreachable"
)

// ProviderHealth is the cached health reading for one provider.
// Written only by the registry's two write paths: explicit probes and
// post-dispatch reports.  Everyone else gets copies.
type ProviderHealth struct {
	ProviderID  string
	Status      Status
	LastChecked time.Time
	LastError   string
}

// Candidate is one (provider, model) pair in a fallback chain.
type Candidate struct {
	ProviderID string
	ModelID    string
}

// probeTimeout bounds a single liveness probe.
const probeTimeout = 5 * time.Second

// Registry tracks configured providers, owns the health cache, and
// produces the fallback ordering consumed by the dispatcher.
type Registry struct {
	descriptors []ProviderDescriptor
	streamers   map[string]client.ChatStreamer
	models      *Models

	mu     sync.Mutex
	health map[string]ProviderHealth

	// now is a clock hook for tests
	now func() time.Time
}

// NewRegistry builds a registry from the config.  Adapters are only
// constructed for configured providers.
func NewRegistry(cfg *Config, adapters map[string]client.ChatStreamer) *Registry {
	r := &Registry{
		streamers: make(map[string]client.ChatStreamer),
		models:    NewModels(),
		health:    make(map[string]ProviderHealth),
		now:       time.Now,
	}

	configured := map[string]bool{
		ProviderOllama:    cfg.OllamaURL != "",
		ProviderOpenAI:    cfg.OpenAIKey != "",
		ProviderAnthropic: cfg.AnthropicKey != "",
		ProviderGoogle:    cfg.GoogleKey != "",
		ProviderXAI:       cfg.XAIKey != "",
	}
	display := map[string]string{
		ProviderOllama:    "Ollama",
		ProviderOpenAI:    "OpenAI",
		ProviderAnthropic: "Anthropic",
		ProviderGoogle:    "Google",
		ProviderXAI:       "xAI",
	}

	for _, id := range providerOrder {
		family := FamilyCloud
		if id == ProviderOllama {
			family = FamilyLocal
		}
		desc := ProviderDescriptor{
			ID:           id,
			Family:       family,
			DisplayName:  display[id],
			Configured:   configured[id],
			Models:       r.models.ModelsForProvider(id),
			DefaultModel: DefaultModel(id),
		}
		r.descriptors = append(r.descriptors, desc)
		r.health[id] = ProviderHealth{ProviderID: id, Status: StatusUnknown}
		if desc.Configured && adapters != nil {
			if s, ok := adapters[id]; ok {
				r.streamers[id] = s
			}
		}
	}
	return r
}

// register installs an adapter and marks its provider configured.
// Used by tests to wire mock streamers.
func (r *Registry) register(id string, s client.ChatStreamer) {
	r.streamers[id] = s
	for i := range r.descriptors {
		if r.descriptors[i].ID == id {
			r.descriptors[i].Configured = true
		}
	}
}

// Models returns the model catalog.
func (r *Registry) Models() *Models {
	return r.models
}

// ListConfigured returns the configured providers in deterministic
// order: local before cloud, then declaration order.
func (r *Registry) ListConfigured() (out []ProviderDescriptor) {
	for _, d := range r.descriptors {
		if d.Configured {
			out = append(out, d)
		}
	}
	return
}

// ListAll returns every known provider descriptor, configured or not.
func (r *Registry) ListAll() []ProviderDescriptor {
	out := make([]ProviderDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Descriptor returns the descriptor for a provider id.
func (r *Registry) Descriptor(id string) (ProviderDescriptor, bool) {
	for _, d := range r.descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return ProviderDescriptor{}, false
}

// Streamer returns the adapter for a configured provider.
func (r *Registry) Streamer(id string) (client.ChatStreamer, bool) {
	s, ok := r.streamers[id]
	return s, ok
}

// Health returns a copy of the cached health reading.
func (r *Registry) Health(id string) ProviderHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health[id]
}

// CheckHealth probes one provider and refreshes the cache.  The probe
// is bounded by probeTimeout and runs on its own connection; failure
// is a status, never an error.
func (r *Registry) CheckHealth(ctx context.Context, id string) ProviderHealth {
	s, ok := r.streamers[id]
	if !ok {
		h := ProviderHealth{
			ProviderID:  id,
			Status:      StatusUnreachable,
			LastChecked: r.now(),
			LastError:   "provider not configured",
		}
		r.setHealth(h)
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	h := ProviderHealth{ProviderID: id, LastChecked: r.now()}
	if err := s.CheckHealth(ctx); err != nil {
		h.Status = StatusUnreachable
		h.LastError = err.Error()
	} else {
		h.Status = StatusHealthy
	}
	r.setHealth(h)
	return h
}

// ReportResult refreshes the health cache after a dispatch attempt.
// This is the only write path into the cache besides explicit probes.
// Auth and malformed_response leave reachability unknown-but-working,
// so they mark the provider degraded rather than unreachable.
func (r *Registry) ReportResult(id string, errInfo *client.ErrorInfo) {
	h := ProviderHealth{ProviderID: id, LastChecked: r.now()}
	switch {
	case errInfo == nil:
		h.Status = StatusHealthy
	case errInfo.Kind == client.ErrTimeout || errInfo.Kind == client.ErrBackendUnavailable:
		h.Status = StatusUnreachable
		h.LastError = errInfo.Message
	default:
		h.Status = StatusDegraded
		h.LastError = errInfo.Message
	}
	r.setHealth(h)
}

func (r *Registry) setHealth(h ProviderHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[h.ProviderID] = h
}

// healthRank buckets statuses for fallback ordering.
func healthRank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded, StatusUnknown:
		return 1
	default: // unreachable
		return 2
	}
}

// RankCandidates produces the fallback chain for a turn.  The
// requested provider/model is always first, healthy or not -- an
// explicit user choice is honored.  The remaining configured providers
// follow, ordered by last-known health then declaration order, each
// paired with its own default model.  Health is advisory: a stale
// reading only affects ordering, never blocks an attempt.
func (r *Registry) RankCandidates(requestedProvider, requestedModel string) (chain []Candidate) {
	if requestedModel == "" {
		requestedModel = DefaultModel(requestedProvider)
	}
	chain = append(chain, Candidate{ProviderID: requestedProvider, ModelID: requestedModel})

	type scored struct {
		c    Candidate
		rank int
		decl int
	}
	var rest []scored
	r.mu.Lock()
	for i, d := range r.descriptors {
		if !d.Configured || d.ID == requestedProvider {
			continue
		}
		rest = append(rest, scored{
			c:    Candidate{ProviderID: d.ID, ModelID: d.DefaultModel},
			rank: healthRank(r.health[d.ID].Status),
			decl: i,
		})
	}
	r.mu.Unlock()

	// stable order: health bucket, then declaration order
	for bucket := 0; bucket <= 2; bucket++ {
		for _, s := range rest {
			if s.rank == bucket {
				chain = append(chain, s.c)
			}
		}
	}
	return
}
