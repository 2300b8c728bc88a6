package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/littlehelper/littlehelper/internal/embed"
	"github.com/littlehelper/littlehelper/internal/fault"
)

type storedVector struct {
	file   File
	vector []float32
}

// EncodeVector packs v as little-endian float32.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// EmbeddingText is what gets embedded for a file:
// "name | ext | last three path components | size category | Month Year".
func EmbeddingText(f File) string {
	parts := strings.Split(filepath.ToSlash(f.Path), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	var size string
	switch {
	case f.Size < 1024:
		size = "tiny"
	case f.Size < 100*1024:
		size = "small"
	case f.Size < 10*1024*1024:
		size = "medium"
	default:
		size = "large"
	}
	return fmt.Sprintf("%s | %s | %s | %s | %s",
		f.Name, f.Ext, strings.Join(parts, "/"), size, f.ModifiedAt.Format("January 2006"))
}

// PendingEmbeddings lists files without a vector from model.
func (ix *Index) PendingEmbeddings(model string, limit int) ([]File, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.Query("SELECT "+fileColumns+` FROM files f
		LEFT JOIN file_embeddings e ON e.file_id = f.id
		WHERE e.file_id IS NULL OR e.model != ?
		ORDER BY f.id
		LIMIT ?`, model, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// StoreEmbedding replaces the vector of fileID.
func (ix *Index) StoreEmbedding(fileID int64, model string, v []float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.Exec(`INSERT OR REPLACE INTO file_embeddings (file_id, model, dims, vector, updated_at)
		VALUES (?, ?, ?, ?, ?)`, fileID, model, len(v), EncodeVector(v), time.Now().Unix())
	return err
}

func (ix *Index) EmbeddingCount() (int64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var n int64
	err := ix.db.QueryRow("SELECT COUNT(*) FROM file_embeddings").Scan(&n)
	return n, err
}

func (ix *Index) vectors(model string, filter Filter) (map[int64]storedVector, error) {
	where, args := filter.where()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.Query("SELECT "+fileColumns+`, e.vector FROM file_embeddings e
		JOIN files f ON f.id = e.file_id
		WHERE e.model = ?`+where, append([]any{model}, args...)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]storedVector)
	for rows.Next() {
		var f File
		var modified, indexed int64
		var blob []byte
		if err := rows.Scan(&f.ID, &f.Path, &f.Name, &f.Ext, &f.Size, &modified, &f.DriveID, &f.Language, &indexed, &blob); err != nil {
			return nil, err
		}
		f.ModifiedAt = time.Unix(modified, 0).UTC()
		f.IndexedAt = time.Unix(indexed, 0).UTC()
		out[f.ID] = storedVector{file: f, vector: DecodeVector(blob)}
	}
	return out, rows.Err()
}

// EmbedPending embeds up to batch files at a time until none are left or an
// error occurs, returning how many vectors were stored. The index lock is not
// held while the embedder runs.
func (ix *Index) EmbedPending(ctx context.Context, emb embed.Embedder, batch int) (int, error) {
	if batch <= 0 {
		batch = 32
	}
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		files, err := ix.PendingEmbeddings(emb.Model(), batch)
		if err != nil {
			return done, err
		}
		if len(files) == 0 {
			return done, nil
		}

		texts := make([]string, len(files))
		for i, f := range files {
			texts[i] = EmbeddingText(f)
		}
		vecs, err := emb.EmbedTexts(ctx, texts)
		if err != nil {
			return done, fmt.Errorf("embedding batch: %w", err)
		}
		if len(vecs) != len(texts) {
			return done, fmt.Errorf("embedder returned %d vectors for %d texts: %w", len(vecs), len(texts), fault.ErrUpstream)
		}
		for i, v := range vecs {
			if err := ix.StoreEmbedding(files[i].ID, emb.Model(), v); err != nil {
				return done, err
			}
			done++
		}
	}
}
