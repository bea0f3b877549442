package core

import (
	"fmt"
	"sort"

	oai "github.com/sashabaranov/go-openai"
)

// Model is a chat model name plus its characteristics.
type Model struct {
	Name         string
	TokenLimit   int
	ProviderID   string
	UpstreamName string
}

func (m *Model) String() string {
	return fmt.Sprintf("%-28s %-10s tokens: %d", m.Name, m.ProviderID, m.TokenLimit)
}

// Models manages the set of known models across providers.
type Models struct {
	Available map[string]*Model
}

// defaultModels holds each provider's default model name.
var defaultModels = map[string]string{
	ProviderOllama:    "llama3.2",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-20241022",
	ProviderGoogle:    "gemini-1.5-flash",
	ProviderXAI:       "grok-beta",
}

// NewModels builds the static model catalog.  Ollama models are
// whatever the local daemon has pulled; these entries are the common
// defaults, and the registry augments them from /api/tags when the
// daemon is reachable.
func NewModels() (models *Models) {
	models = &Models{}
	models.Available = make(map[string]*Model)
	add := func(name string, tokenLimit int, providerID, upstreamName string) {
		models.Available[name] = &Model{
			Name:         name,
			TokenLimit:   tokenLimit,
			ProviderID:   providerID,
			UpstreamName: upstreamName,
		}
	}

	add("llama3.2", 8192, ProviderOllama, "llama3.2")
	add("llama3.1", 8192, ProviderOllama, "llama3.1")
	add("mistral", 8192, ProviderOllama, "mistral")
	add("codellama", 8192, ProviderOllama, "codellama")

	add("gpt-4o", 128000, ProviderOpenAI, oai.GPT4o)
	add("gpt-4o-mini", 128000, ProviderOpenAI, "gpt-4o-mini")
	add("gpt-4-turbo", 128000, ProviderOpenAI, oai.GPT4Turbo)
	add("gpt-4", 8192, ProviderOpenAI, oai.GPT4)
	add("gpt-3.5-turbo", 4096, ProviderOpenAI, oai.GPT3Dot5Turbo)

	add("claude-3-5-sonnet-20241022", 200000, ProviderAnthropic, "claude-3-5-sonnet-20241022")
	add("claude-3-5-haiku-20241022", 200000, ProviderAnthropic, "claude-3-5-haiku-20241022")
	add("claude-3-opus-20240229", 200000, ProviderAnthropic, "claude-3-opus-20240229")
	add("claude-3-haiku-20240307", 200000, ProviderAnthropic, "claude-3-haiku-20240307")

	add("gemini-1.5-pro", 1000000, ProviderGoogle, "gemini-1.5-pro")
	add("gemini-1.5-flash", 1000000, ProviderGoogle, "gemini-1.5-flash")

	add("grok-beta", 128000, ProviderXAI, "grok-beta")
	add("grok-vision-beta", 8192, ProviderXAI, "grok-vision-beta")

	return
}

// FindModel returns the model object for a model name.  If the name is
// empty, the provider's default model is used.
func (models *Models) FindModel(name, providerID string) (m *Model, err error) {
	if name == "" {
		name = defaultModels[providerID]
	}
	m, ok := models.Available[name]
	if !ok {
		// unknown ollama models are allowed: the daemon may have any
		// tag pulled locally
		if providerID == ProviderOllama {
			return &Model{Name: name, TokenLimit: 8192, ProviderID: providerID, UpstreamName: name}, nil
		}
		err = fmt.Errorf("model %q not found", name)
		return
	}
	if providerID != "" && m.ProviderID != providerID {
		err = fmt.Errorf("model %q belongs to provider %q, not %q", name, m.ProviderID, providerID)
		return
	}
	return
}

// DefaultModel returns the default model name for a provider.
func DefaultModel(providerID string) string {
	return defaultModels[providerID]
}

// ListModels returns the catalog sorted by provider then model name.
func (models *Models) ListModels() (list []*Model) {
	for _, m := range models.Available {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ProviderID == list[j].ProviderID {
			return list[i].Name < list[j].Name
		}
		return list[i].ProviderID < list[j].ProviderID
	})
	return
}

// ModelsForProvider returns the catalog entries for one provider, in
// name order.
func (models *Models) ModelsForProvider(providerID string) (names []string) {
	for _, m := range models.Available {
		if m.ProviderID == providerID {
			names = append(names, m.Name)
		}
	}
	sort.Strings(names)
	return
}
