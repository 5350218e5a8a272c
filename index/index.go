package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	_ "modernc.org/sqlite"
)

var (
	ErrCountMismatch     = errors.New("index: texts and metadatas must have the same length")
	ErrNotFound          = errors.New("index: not found")
	ErrCorrupt           = errors.New("index: unreadable or corrupt")
	ErrStale             = errors.New("index: stale, the corpus or embedding model has changed since it was built")
	ErrDimensionMismatch = errors.New("index: embedding dimensions do not match the index")
	ErrEmbedding         = errors.New("index: embedding failed")
)

// Options used when building or loading an index.
type Options struct {
	// Fingerprint of the corpus. It is stored when the index is built, and
	// compared when it is loaded. An empty Fingerprint skips the comparison.
	Fingerprint string
	// EmbeddingModel is recorded in the header for diagnostics.
	EmbeddingModel string
}

type Header struct {
	Fingerprint    string
	EmbeddingModel string
	Dimensions     int
	CreatedAt      time.Time
}

// Store is an in-memory nearest neighbour index over a set of documents,
// ranked by cosine similarity. It can be saved to, and loaded from, a SQLite
// file.
type Store struct {
	embedder embeddings.Embedder

	m       sync.RWMutex
	header  Header
	docs    []schema.Document
	vectors [][]float32
	norms   []float64
}

var _ vectorstores.VectorStore = (*Store)(nil)

// Exists returns true if an index file is present at path.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Build embeds texts with a single batch call and returns a Store holding
// the texts, their metadata and their embeddings.
func Build(ctx context.Context, texts []string, metadatas []map[string]any, embedder embeddings.Embedder, opts Options) (s *Store, err error) {
	if len(texts) != len(metadatas) {
		return nil, fmt.Errorf("%w: %d texts, %d metadatas", ErrCountMismatch, len(texts), len(metadatas))
	}
	s = &Store{
		embedder: embedder,
		header: Header{
			Fingerprint:    opts.Fingerprint,
			EmbeddingModel: opts.EmbeddingModel,
			CreatedAt:      time.Now().UTC().Truncate(time.Second),
		},
	}
	if len(texts) == 0 {
		return s, nil
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbedding, len(texts), len(vectors))
	}
	docs := make([]schema.Document, len(texts))
	for i := range texts {
		// Round trip the metadata so that a built index and a loaded index
		// hold identical values.
		md, err := normalizeMetadata(metadatas[i])
		if err != nil {
			return nil, fmt.Errorf("index: invalid metadata for document %d: %w", i, err)
		}
		docs[i] = schema.Document{PageContent: texts[i], Metadata: md}
	}
	if err = s.append(docs, vectors); err != nil {
		return nil, err
	}
	return s, nil
}

func normalizeMetadata(md map[string]any) (out map[string]any, err error) {
	b, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

// append must be called with the write lock held, or before the Store is shared.
func (s *Store) append(docs []schema.Document, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty embedding for document %d", ErrEmbedding, len(s.docs)+i)
		}
		if s.header.Dimensions == 0 {
			s.header.Dimensions = len(v)
		}
		if len(v) != s.header.Dimensions {
			return fmt.Errorf("%w: document %d has %d dimensions, expected %d", ErrDimensionMismatch, len(s.docs)+i, len(v), s.header.Dimensions)
		}
	}
	for i := range docs {
		s.docs = append(s.docs, docs[i])
		s.vectors = append(s.vectors, vectors[i])
		s.norms = append(s.norms, norm(vectors[i]))
	}
	return nil
}

func (s *Store) Header() Header {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.header
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.docs)
}

// Documents returns the stored documents in insertion order.
func (s *Store) Documents() []schema.Document {
	s.m.RLock()
	defer s.m.RUnlock()
	docs := make([]schema.Document, len(s.docs))
	copy(docs, s.docs)
	return docs
}

// AddDocuments embeds docs and appends them to the store. The returned IDs
// are the insertion positions of the documents.
func (s *Store) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) (ids []string, err error) {
	opts := s.options(options)
	if opts.Deduplicater != nil {
		filtered := make([]schema.Document, 0, len(docs))
		for _, doc := range docs {
			if !opts.Deduplicater(ctx, doc) {
				filtered = append(filtered, doc)
			}
		}
		docs = filtered
	}
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbedding, len(docs), len(vectors))
	}
	stored := make([]schema.Document, len(docs))
	for i, doc := range docs {
		md, err := normalizeMetadata(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("index: invalid metadata for document %d: %w", i, err)
		}
		stored[i] = schema.Document{PageContent: doc.PageContent, Metadata: md}
	}

	s.m.Lock()
	defer s.m.Unlock()
	start := len(s.docs)
	if err = s.append(stored, vectors); err != nil {
		return nil, err
	}
	ids = make([]string, len(stored))
	for i := range stored {
		ids[i] = strconv.Itoa(start + i)
	}
	return ids, nil
}

func (s *Store) options(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{
		Embedder: s.embedder,
	}
	for _, o := range options {
		o(&opts)
	}
	return opts
}

// SimilaritySearch embeds the query and returns up to numDocuments documents,
// most similar first. Documents with equal scores keep their insertion order.
func (s *Store) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := s.options(options)
	q, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return s.SimilaritySearchVector(q, numDocuments, opts.ScoreThreshold)
}

// SimilaritySearchVector ranks the stored documents against an embedding.
// If scoreThreshold is non-zero, documents scoring below it are omitted.
func (s *Store) SimilaritySearchVector(q []float32, numDocuments int, scoreThreshold float32) ([]schema.Document, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	if len(s.docs) == 0 || numDocuments <= 0 {
		return nil, nil
	}
	if len(q) != s.header.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(q), s.header.Dimensions)
	}
	type scored struct {
		idx   int
		score float64
	}
	qn := norm(q)
	scoreds := make([]scored, len(s.vectors))
	for i, v := range s.vectors {
		var score float64
		if qn != 0 && s.norms[i] != 0 {
			score = dot(q, v) / (qn * s.norms[i])
		}
		// NaN can't be ordered, so it ranks last.
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}
		scoreds[i] = scored{idx: i, score: score}
	}
	sort.SliceStable(scoreds, func(a, b int) bool { return scoreds[a].score > scoreds[b].score })

	results := make([]schema.Document, 0, min(numDocuments, len(scoreds)))
	for _, sc := range scoreds {
		if len(results) == numDocuments {
			break
		}
		// A zero threshold means no threshold was set.
		if scoreThreshold != 0 && float32(sc.score) < scoreThreshold {
			break
		}
		doc := s.docs[sc.idx]
		doc.Score = float32(sc.score)
		results = append(results, doc)
	}
	return results, nil
}

func dot(a, b []float32) (sum float64) {
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

const (
	metaFingerprint    = "fingerprint"
	metaEmbeddingModel = "embedding_model"
	metaDimensions     = "dimensions"
	metaCreatedAt      = "created_at"
)

// Save writes the store to a SQLite file at path, replacing any existing
// file. The data is written to a temporary file in the same directory and
// renamed into place.
func (s *Store) Save(ctx context.Context, path string) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("index: failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	if err = tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("index: failed to close temporary file: %w", err), os.Remove(tmpName))
	}
	if err = s.write(ctx, tmpName); err != nil {
		return errors.Join(err, os.Remove(tmpName))
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.Join(fmt.Errorf("index: failed to move index into place: %w", err), os.Remove(tmpName))
	}
	return nil
}

func (s *Store) write(ctx context.Context, name string) (err error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return fmt.Errorf("index: failed to open %s: %w", name, err)
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	if err = Migrate(db); err != nil {
		return err
	}

	s.m.RLock()
	defer s.m.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		metaFingerprint:    s.header.Fingerprint,
		metaEmbeddingModel: s.header.EmbeddingModel,
		metaDimensions:     strconv.Itoa(s.header.Dimensions),
		metaCreatedAt:      s.header.CreatedAt.Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err = tx.ExecContext(ctx, `insert or replace into index_meta (key, value) values (?, ?)`, k, v); err != nil {
			return fmt.Errorf("index: failed to write %s: %w", k, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `delete from document`); err != nil {
		return fmt.Errorf("index: failed to clear documents: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `insert into document (idx, text, metadata, embedding) values (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, doc := range s.docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("index: failed to marshal metadata: %w", err)
		}
		if _, err = stmt.ExecContext(ctx, i, doc.PageContent, string(metadataJSON), EncodeEmbedding(s.vectors[i])); err != nil {
			return fmt.Errorf("index: failed to write document %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("index: failed to commit: %w", err)
	}
	return nil
}

// Load reads a Store previously written by Save. The embedder is used for
// queries and must produce vectors with the dimensions of the saved index.
// The file is opened read-only and is never modified.
func Load(ctx context.Context, path string, embedder embeddings.Embedder, opts Options) (s *Store, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrCorrupt, path)
	}
	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	if err = checkSchema(ctx, db); err != nil {
		return nil, err
	}

	s = &Store{embedder: embedder}
	if s.header, err = readHeader(ctx, db); err != nil {
		return nil, err
	}
	if opts.Fingerprint != "" && s.header.Fingerprint != opts.Fingerprint {
		return nil, fmt.Errorf("%w: %s", ErrStale, path)
	}
	if err = s.readDocuments(ctx, db); err != nil {
		return nil, err
	}
	return s, nil
}

// readOnlyDSN opens path as a read-only SQLite URI, so that loading never
// modifies the file.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}

// checkSchema requires the schema to have been fully migrated by Save.
func checkSchema(ctx context.Context, db *sql.DB) error {
	version, dirty, err := SchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if dirty {
		return fmt.Errorf("%w: schema version %d is dirty", ErrCorrupt, version)
	}
	latest, err := LatestSchemaVersion()
	if err != nil {
		return err
	}
	switch {
	case version < latest:
		return fmt.Errorf("%w: schema version %d is older than %d", ErrStale, version, latest)
	case version > latest:
		return fmt.Errorf("%w: schema version %d is newer than %d", ErrCorrupt, version, latest)
	}
	return nil
}

func readHeader(ctx context.Context, db *sql.DB) (h Header, err error) {
	rows, err := db.QueryContext(ctx, `select key, value from index_meta`)
	if err != nil {
		return h, fmt.Errorf("%w: failed to read header: %w", ErrCorrupt, err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err = rows.Scan(&k, &v); err != nil {
			return h, fmt.Errorf("%w: failed to read header: %w", ErrCorrupt, err)
		}
		meta[k] = v
	}
	if err = rows.Err(); err != nil {
		return h, fmt.Errorf("%w: failed to read header: %w", ErrCorrupt, err)
	}
	for _, k := range []string{metaFingerprint, metaEmbeddingModel, metaDimensions, metaCreatedAt} {
		if _, ok := meta[k]; !ok {
			return h, fmt.Errorf("%w: header is missing %q", ErrCorrupt, k)
		}
	}
	h.Fingerprint = meta[metaFingerprint]
	h.EmbeddingModel = meta[metaEmbeddingModel]
	if h.Dimensions, err = strconv.Atoi(meta[metaDimensions]); err != nil {
		return h, fmt.Errorf("%w: invalid dimensions: %w", ErrCorrupt, err)
	}
	if h.CreatedAt, err = time.Parse(time.RFC3339, meta[metaCreatedAt]); err != nil {
		return h, fmt.Errorf("%w: invalid created_at: %w", ErrCorrupt, err)
	}
	return h, nil
}

func (s *Store) readDocuments(ctx context.Context, db *sql.DB) (err error) {
	rows, err := db.QueryContext(ctx, `select text, metadata, embedding from document order by idx asc`)
	if err != nil {
		return fmt.Errorf("%w: failed to read documents: %w", ErrCorrupt, err)
	}
	defer rows.Close()
	for rows.Next() {
		var text, metadataJSON string
		var embedding []byte
		if err = rows.Scan(&text, &metadataJSON, &embedding); err != nil {
			return fmt.Errorf("%w: failed to read document: %w", ErrCorrupt, err)
		}
		var md map[string]any
		if err = json.Unmarshal([]byte(metadataJSON), &md); err != nil {
			return fmt.Errorf("%w: failed to unmarshal metadata: %w", ErrCorrupt, err)
		}
		vec, err := DecodeEmbedding(embedding)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(vec) != s.header.Dimensions {
			return fmt.Errorf("%w: document %d has %d dimensions, header says %d", ErrCorrupt, len(s.docs), len(vec), s.header.Dimensions)
		}
		s.docs = append(s.docs, schema.Document{PageContent: text, Metadata: md})
		s.vectors = append(s.vectors, vec)
		s.norms = append(s.norms, norm(vec))
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("%w: failed to read documents: %w", ErrCorrupt, err)
	}
	return nil
}
