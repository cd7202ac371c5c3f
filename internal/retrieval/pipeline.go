package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/llm"
	"github.com/normanking/netbot/internal/logging"
)

// DefaultEmbedBatchSize is the number of chunks embedded per backend call.
const DefaultEmbedBatchSize = 32

// IngestResult describes one ingested (or skipped) dataset.
type IngestResult struct {
	Dataset   string        `json:"dataset"`
	Source    string        `json:"source"`
	Chunks    int           `json:"chunks"`
	Dimension int           `json:"dimension"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline turns <data_dir>/<dataset>.txt files into persisted, embedded
// chunks and serves them back as indices.
type Pipeline struct {
	store      *data.Store
	embedder   llm.Embedder
	dataDir    string
	batchSize  int
	embedModel string
	log        *logging.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithEmbedModel records the embedding model name with each dataset.
func WithEmbedModel(model string) PipelineOption {
	return func(p *Pipeline) {
		p.embedModel = model
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(log *logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.log = log
	}
}

// NewPipeline creates a data pipeline over a store and an embedding backend.
func NewPipeline(store *data.Store, embedder llm.Embedder, dataDir string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:     store,
		embedder:  embedder,
		dataDir:   dataDir,
		batchSize: DefaultEmbedBatchSize,
		log:       logging.Global().WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DataDir returns the directory scanned by IngestDir.
func (p *Pipeline) DataDir() string {
	return p.dataDir
}

// ChunkText splits content on blank lines. Parts are trimmed and empty parts
// dropped; ChunkID is the index of the part in the split, empties included.
func ChunkText(content, source string) []data.Chunk {
	var chunks []data.Chunk
	for i, part := range strings.Split(content, "\n\n") {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		chunks = append(chunks, data.Chunk{ChunkID: i, Source: source, Text: text})
	}
	return chunks
}

// Ingest loads, chunks and embeds the file at path and stores it as
// datasetID. An existing dataset is kept unless force is set.
func (p *Pipeline) Ingest(ctx context.Context, datasetID, path string, force bool) (*IngestResult, error) {
	start := time.Now()
	source := filepath.Base(path)
	result := &IngestResult{Dataset: datasetID, Source: source}

	if !force {
		exists, err := p.store.DatasetExists(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		if exists {
			p.log.Info("index for %s already exists, skipping unless forced", datasetID)
			result.Skipped = true
			return result, nil
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	chunks := ChunkText(string(content), source)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no valid content found in %s", source)
	}
	p.log.Info("processed %s with %d chunks", source, len(chunks))

	if err := p.embed(ctx, chunks); err != nil {
		return nil, fmt.Errorf("embed %s: %w", source, err)
	}

	sum := sha256.Sum256(content)
	ds := &data.Dataset{
		ID:         datasetID,
		Source:     source,
		EmbedModel: p.embedModel,
		Checksum:   hex.EncodeToString(sum[:]),
	}
	if err := p.store.SaveDataset(ctx, ds, chunks); err != nil {
		return nil, fmt.Errorf("save dataset %s: %w", datasetID, err)
	}

	result.Chunks = ds.ChunkCount
	result.Dimension = ds.Dimension
	result.Duration = time.Since(start)
	p.log.Info("stored dataset %s: %d chunks, dimension %d in %v", datasetID, result.Chunks, result.Dimension, result.Duration)
	return result, nil
}

// embed fills chunk embeddings in batches.
func (p *Pipeline) embed(ctx context.Context, chunks []data.Chunk) error {
	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("batch %d-%d: got %d vectors for %d texts", start, end, len(vectors), len(texts))
		}
		for i, v := range vectors {
			chunks[start+i].Embedding = v
		}
	}
	return nil
}

// IngestDir ingests every *.txt file in the data directory; the dataset id
// is the file stem. Failures are collected and do not stop other files.
func (p *Pipeline) IngestDir(ctx context.Context, force bool) ([]*IngestResult, error) {
	files, err := filepath.Glob(filepath.Join(p.dataDir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.dataDir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .txt files found in %s", p.dataDir)
	}
	sort.Strings(files)

	var results []*IngestResult
	var errs []error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		id := DatasetID(path)
		res, err := p.Ingest(ctx, id, path, force)
		if err != nil {
			p.log.Error("ingest %s failed: %v", id, err)
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// DatasetID returns the dataset id of a knowledge file: its name without
// the extension.
func DatasetID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListDatasets returns the persisted datasets.
func (p *Pipeline) ListDatasets(ctx context.Context) ([]*data.Dataset, error) {
	return p.store.ListDatasets(ctx)
}

// DatasetIDs implements DatasetLister.
func (p *Pipeline) DatasetIDs(ctx context.Context) ([]string, error) {
	list, err := p.store.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, ds := range list {
		ids[i] = ds.ID
	}
	return ids, nil
}

// LoadIndex implements Loader from the persisted chunks.
func (p *Pipeline) LoadIndex(ctx context.Context, dataset string) (*Index, error) {
	chunks, err := p.store.LoadChunks(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return NewIndex(dataset, chunks)
}
