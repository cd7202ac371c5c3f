package data

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATASET OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Dataset describes one ingested knowledge file.
type Dataset struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Dimension  int       `json:"dimension"`
	EmbedModel string    `json:"embed_model"`
	ChunkCount int       `json:"chunk_count"`
	Checksum   string    `json:"checksum,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is one passage of a dataset with its embedding. ChunkID is the
// position of the passage in the source file.
type Chunk struct {
	ChunkID   int       `json:"chunk_id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// SaveDataset replaces a dataset and all its chunks atomically. Every
// embedding must have the dataset's dimension; a zero Dimension is taken
// from the first chunk.
func (s *Store) SaveDataset(ctx context.Context, ds *Dataset, chunks []Chunk) error {
	if ds.ID == "" {
		return fmt.Errorf("dataset ID cannot be empty")
	}
	if ds.Dimension == 0 && len(chunks) > 0 {
		ds.Dimension = len(chunks[0].Embedding)
	}
	for _, c := range chunks {
		if len(c.Embedding) != ds.Dimension {
			return fmt.Errorf("chunk %d of %s: embedding dimension %d, want %d",
				c.ChunkID, ds.ID, len(c.Embedding), ds.Dimension)
		}
	}

	now := time.Now().UTC()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		// Cascades to chunks.
		if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, ds.ID); err != nil {
			return fmt.Errorf("delete previous dataset: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO datasets (id, source, dimension, embed_model, chunk_count, checksum, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		`, ds.ID, ds.Source, ds.Dimension, ds.EmbedModel, ds.Checksum, ds.CreatedAt, ds.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert dataset: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (dataset_id, chunk_id, source, text, embedding)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, ds.ID, c.ChunkID, c.Source, c.Text, encodeVector(c.Embedding)); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.ChunkID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	ds.ChunkCount = len(chunks)
	return nil
}

// GetDataset returns a dataset's metadata. Missing datasets yield an error
// matching ErrNotFound.
func (s *Store) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, dimension, embed_model, chunk_count, checksum, created_at, updated_at
		FROM datasets WHERE id = ?
	`, id)

	ds, err := scanDataset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	return ds, nil
}

// DatasetExists reports whether a dataset has been ingested.
func (s *Store) DatasetExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("query dataset: %w", err)
	}
	return n > 0, nil
}

// ListDatasets returns every dataset ordered by id.
func (s *Store) ListDatasets(ctx context.Context) ([]*Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, dimension, embed_model, chunk_count, checksum, created_at, updated_at
		FROM datasets ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []*Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// DeleteDataset removes a dataset and its chunks.
func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	return nil
}

// LoadChunks returns a dataset's chunks ordered by chunk id.
func (s *Store) LoadChunks(ctx context.Context, id string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, source, text, embedding
		FROM chunks WHERE dataset_id = ? ORDER BY chunk_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ChunkID, &c.Source, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if c.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.ChunkID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*Dataset, error) {
	var ds Dataset
	err := row.Scan(&ds.ID, &ds.Source, &ds.Dimension, &ds.EmbedModel, &ds.ChunkCount,
		&ds.Checksum, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
