package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/metrics"
	"github.com/normanking/netbot/internal/persona"
)

const (
	// NoInformation is returned when retrieval has nothing to add.
	NoInformation = "İlgili bilgi bulunamadı."

	// DefaultK is the number of passages searched per query.
	DefaultK = 3

	// DefaultCapability is the last-resort retrieval capability.
	DefaultCapability = "fixie_check_common_issues"
)

// ErrNoDatasetsAvailable is returned when no dataset has been ingested.
var ErrNoDatasetsAvailable = errors.New("no datasets available")

// Degradation reasons, used as metric labels.
const (
	DegradedIndexLoad = "index_load"
	DegradedEmbedding = "embedding"
	DegradedDimension = "dimension"
	DegradedSearch    = "search"
)

// DatasetLister reports the ingested dataset ids.
type DatasetLister interface {
	DatasetIDs(ctx context.Context) ([]string, error)
}

// Helper selects datasets and retrieves passages for retrieval capabilities.
type Helper struct {
	store    *persona.Store
	cache    *IndexCache
	embedder llm.Embedder
	datasets DatasetLister

	decider      llm.Provider
	deciderModel string
	timeout      time.Duration
	k            int
	log          *logging.Logger
}

// HelperOption configures a Helper.
type HelperOption func(*Helper)

// WithDecider sets the model that classifies queries when no capability hint
// is usable. Without one, selection goes straight to the static fallback.
func WithDecider(provider llm.Provider, model string) HelperOption {
	return func(h *Helper) {
		h.decider = provider
		h.deciderModel = model
	}
}

// WithK sets the default number of passages searched.
func WithK(k int) HelperOption {
	return func(h *Helper) {
		if k > 0 {
			h.k = k
		}
	}
}

// WithHelperLogger sets the logger.
func WithHelperLogger(log *logging.Logger) HelperOption {
	return func(h *Helper) {
		h.log = log
	}
}

// NewHelper creates a retrieval helper.
func NewHelper(store *persona.Store, cache *IndexCache, embedder llm.Embedder, datasets DatasetLister, opts ...HelperOption) *Helper {
	h := &Helper{
		store:    store,
		cache:    cache,
		embedder: embedder,
		datasets: datasets,
		timeout:  60 * time.Second,
		k:        DefaultK,
		log:      logging.Global().WithComponent("retrieval"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SelectDataset picks the dataset and retrieval capability for a query.
//
// A hint naming a retrieval capability whose dataset is available wins
// without a model call. Otherwise the decider model is asked; an invalid or
// failed answer falls back to the first catalog capability whose dataset is
// available, then to the first available dataset. Only an empty dataset list
// is an error.
func (h *Helper) SelectDataset(ctx context.Context, query, hint string) (string, string, error) {
	available, err := h.datasets.DatasetIDs(ctx)
	if err != nil {
		return "", "", fmt.Errorf("list datasets: %w", err)
	}
	if len(available) == 0 {
		return "", "", ErrNoDatasetsAvailable
	}

	if hint != "" {
		if c, ok := h.store.Capability(hint); ok && c.IsRetrieval() && slices.Contains(available, c.Dataset) {
			h.log.Debug("selected dataset %s from capability %s", c.Dataset, hint)
			return c.Dataset, c.Name, nil
		}
	}

	if dataset, tool, ok := h.classify(ctx, query, available); ok {
		h.log.Info("selected dataset %s and capability %s from query", dataset, tool)
		return dataset, tool, nil
	}

	for _, c := range h.store.RetrievalCapabilities() {
		if slices.Contains(available, c.Dataset) {
			h.log.Info("falling back to dataset %s and capability %s", c.Dataset, c.Name)
			return c.Dataset, c.Name, nil
		}
	}

	h.log.Info("falling back to dataset %s and capability %s", available[0], DefaultCapability)
	return available[0], DefaultCapability, nil
}

// classify asks the decider model and validates its answer.
func (h *Helper) classify(ctx context.Context, query string, available []string) (string, string, bool) {
	if h.decider == nil {
		return "", "", false
	}

	var tools []string
	for _, c := range h.store.RetrievalCapabilities() {
		tools = append(tools, c.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp, err := h.decider.Chat(ctx, &llm.ChatRequest{
		Model:    h.deciderModel,
		Messages: llm.UserMessage(BuildSelectionPrompt(query, available, tools)),
	})
	if err != nil {
		h.log.Warn("dataset selection model failed: %v", err)
		return "", "", false
	}

	dataset, tool, ok := ParseSelection(strings.TrimSpace(resp.Content))
	if !ok || !slices.Contains(available, dataset) || !slices.Contains(tools, tool) {
		h.log.Warn("invalid dataset selection (dataset: %q, tool: %q), using fallback", dataset, tool)
		return "", "", false
	}
	return dataset, tool, true
}

// Retrieve returns the passages of dataset nearest to query, joined by blank
// lines, keeping only those whose source carries the capability's source
// tag. k <= 0 uses the helper default. Failures come back as in-band
// notices, never as errors.
func (h *Helper) Retrieve(ctx context.Context, capability, query, dataset string, k int) string {
	c, ok := h.store.Capability(capability)
	if !ok || c.Prefix == "" {
		h.log.Debug("capability %s has no retrieval prefix, skipping retrieval", capability)
		return NoInformation
	}
	if k <= 0 {
		k = h.k
	}

	ix, err := h.cache.Get(ctx, dataset)
	if err != nil {
		return h.degraded(DegradedIndexLoad, "Bilgi dizini yüklenemedi: %v", err)
	}

	vectors, err := h.embedder.Embed(ctx, []string{c.Prefix + query})
	if err == nil && len(vectors) != 1 {
		err = fmt.Errorf("expected 1 vector, got %d", len(vectors))
	}
	if err != nil {
		return h.degraded(DegradedEmbedding, "Sorgu gömme hatası: %v", err)
	}

	vec := vectors[0]
	if len(vec) != ix.Dimension() {
		return h.degraded(DegradedDimension, "Boyut uyuşmazlığı: dizin %d, sorgu %d", ix.Dimension(), len(vec))
	}

	hits, err := ix.Search(vec, k)
	if err != nil {
		return h.degraded(DegradedSearch, "Arama hatası: %v", err)
	}

	tag := c.SourceTag()
	log.Debug().
		Str("dataset", dataset).
		Str("source_tag", tag).
		Int("k", k).
		Int("hits", len(hits)).
		Msg("index search")

	var passages []string
	for _, hit := range hits {
		if tag == "" || strings.Contains(hit.Source, tag) {
			passages = append(passages, hit.Text)
		}
	}

	if len(passages) == 0 {
		h.log.Info("no relevant passages for %s in %s", capability, dataset)
		return NoInformation
	}

	h.log.Info("retrieved %d passages for %s from %s", len(passages), capability, dataset)
	return strings.Join(passages, "\n\n")
}

func (h *Helper) degraded(reason, format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	metrics.RetrievalDegraded.WithLabelValues(reason).Inc()
	h.log.Warn("retrieval degraded (%s): %s", reason, msg)
	return msg
}
