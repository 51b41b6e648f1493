// Package vecindex is a persisted, exact nearest-neighbour index over
// design-change records.
//
// An index lives in a directory holding two companion files: the structure
// (index.bin, ids and vectors in insertion order) and the docstore
// (docstore.db, content and metadata per id). Every change rewrites the
// structure through a temp file and rename, then commits the docstore. A
// crash between the two leaves vectors without entries, which Load drops.
package vecindex

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/LEE-hyeon0771/AI-change-app/internal/embedding"
	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

const (
	StructureFile = "index.bin"
	DocstoreFile  = "docstore.db"

	// ProbeText is embedded once at bootstrap to learn the dimension.
	ProbeText = "init"
	DefaultK  = 5
)

// Options configures an Index.
type Options struct {
	Logger *slog.Logger
	// Seed, when set, supplies the records to index right after a bootstrap,
	// so a lost index directory is rebuilt from the change log.
	Seed func() iter.Seq2[model.DesignChangeRecord, error]
}

// Stats describes the loaded index.
type Stats struct {
	Dir          string `json:"dir"`
	Entries      int    `json:"entries"`
	Dim          int    `json:"dim"`
	Model        string `json:"model,omitempty"`
	Bootstrapped bool   `json:"bootstrapped"`
}

type item struct {
	vectorItem
	content string
	meta    model.ChangeMetadata
}

// Index is safe for concurrent use. Searches share a read lock; Upsert and
// Rebuild take the write lock only after their embedding calls return.
type Index struct {
	dir        string
	structPath string
	docPath    string
	embedder   embedding.Embedder
	logger     *slog.Logger
	seed       func() iter.Seq2[model.DesignChangeRecord, error]

	initMu       sync.Mutex
	ready        atomic.Bool
	bootstrapped bool

	mu      sync.RWMutex
	dim     int
	items   []item
	nextSeq int
	docs    *docStore
	model   string
}

// Open returns a handle on the index in dir. Nothing is read until the
// first operation.
func Open(dir string, embedder embedding.Embedder, opts Options) *Index {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		dir:        dir,
		structPath: filepath.Join(dir, StructureFile),
		docPath:    filepath.Join(dir, DocstoreFile),
		embedder:   embedder,
		logger:     logger,
		seed:       opts.Seed,
		model:      embedding.ModelOf(embedder),
	}
}

// Load loads the index from disk, or bootstraps an empty one when either
// file is missing. It runs once per process; concurrent callers wait for
// the first. A failed attempt is retried by the next caller.
func (x *Index) Load(ctx context.Context) error {
	if x.ready.Load() {
		return nil
	}
	x.initMu.Lock()
	defer x.initMu.Unlock()
	if x.ready.Load() {
		return nil
	}

	if exists(x.structPath) && exists(x.docPath) {
		if err := x.load(ctx); err != nil {
			return err
		}
		if err := x.reseedIfEmpty(ctx); err != nil {
			return err
		}
	} else if err := x.bootstrap(ctx); err != nil {
		return err
	}
	x.ready.Store(true)
	return nil
}

// Bootstrapped reports whether this process created the index from scratch.
func (x *Index) Bootstrapped() bool {
	x.initMu.Lock()
	defer x.initMu.Unlock()
	return x.bootstrapped
}

func (x *Index) load(ctx context.Context) error {
	data, err := os.ReadFile(x.structPath)
	if err != nil {
		return fault.Wrap(err, fault.CodeStorage, "read index structure", fault.FieldPath(x.structPath))
	}
	dim, vectors, err := decodeStructure(data)
	if err != nil {
		return corrupt(err, x.structPath)
	}

	docs, err := openDocStore(x.docPath)
	if err != nil {
		return fault.Wrap(err, fault.CodeStorage, "open docstore", fault.FieldPath(x.docPath))
	}
	entries, err := docs.all(ctx)
	if err != nil {
		docs.Close()
		return corrupt(err, x.docPath)
	}
	if v, ok, err := docs.meta(ctx, "dim"); err != nil {
		docs.Close()
		return corrupt(err, x.docPath)
	} else if ok && v != strconv.Itoa(dim) {
		docs.Close()
		return corrupt(errors.New("docstore dimension "+v+" does not match structure dimension "+strconv.Itoa(dim)), x.docPath)
	}

	items := make([]item, 0, len(vectors))
	nextSeq := 0
	orphans := 0
	for _, v := range vectors {
		e, ok := entries[v.id]
		if !ok {
			orphans++
			continue
		}
		items = append(items, item{vectorItem: v, content: e.Content, meta: e.Metadata})
		nextSeq = max(nextSeq, e.Seq+1)
		delete(entries, v.id)
	}
	for id := range entries {
		docs.Close()
		return corrupt(errors.New("docstore entry "+id+" has no vector"), x.docPath)
	}
	if orphans > 0 {
		x.logger.Warn("vecindex: dropping vectors without docstore entries", "dir", x.dir, "count", orphans)
		if err := writeStructure(x.structPath, dim, items); err != nil {
			docs.Close()
			return fault.Wrap(err, fault.CodeStorage, "rewrite index structure", fault.FieldPath(x.structPath))
		}
	}
	if stored, ok, _ := docs.meta(ctx, "model"); ok && x.model != "" && stored != x.model {
		x.logger.Warn("vecindex: index was built with a different embedding model; run reindex",
			"stored", stored, "current", x.model)
	}

	x.mu.Lock()
	x.dim, x.items, x.nextSeq, x.docs = dim, items, nextSeq, docs
	x.mu.Unlock()
	x.logger.Debug("vecindex: loaded", "dir", x.dir, "entries", len(items), "dim", dim)
	return nil
}

func (x *Index) bootstrap(ctx context.Context) error {
	x.logger.Info("vecindex: bootstrapping empty index", "dir", x.dir)
	dim, err := x.probe(ctx)
	if err != nil {
		return err
	}

	// Seed records are embedded before anything is written, so a crash
	// part way leaves no files and the next Load bootstraps again.
	var items []item
	if x.seed != nil {
		seedDim, seeded, err := x.embedAll(ctx, x.seed())
		if err != nil {
			return err
		}
		if seedDim != 0 && seedDim != dim {
			return fault.Errorf(fault.CodeProvider, "embedding dimension changed from %d to %d during bootstrap", dim, seedDim)
		}
		items = seeded
	}
	if err := x.reset(ctx, dim, items); err != nil {
		return err
	}
	x.bootstrapped = true
	if len(items) > 0 {
		x.logger.Info("vecindex: rebuilt from change log", "entries", len(items))
	}
	return nil
}

// reseedIfEmpty rebuilds an empty index whose seed source has records. An
// index written before its change log can never be empty while the log is
// not, so that state means an earlier bootstrap never finished seeding.
func (x *Index) reseedIfEmpty(ctx context.Context) error {
	if x.seed == nil || x.Len() > 0 {
		return nil
	}
	var found bool
	for _, err := range x.seed() {
		if err != nil {
			return err
		}
		found = true
		break
	}
	if !found {
		return nil
	}
	x.logger.Warn("vecindex: index is empty but the change log is not; rebuilding", "dir", x.dir)
	n, err := x.rebuild(ctx, x.seed())
	if err != nil {
		return err
	}
	x.logger.Info("vecindex: rebuilt from change log", "entries", n)
	return nil
}

func (x *Index) probe(ctx context.Context) (int, error) {
	vec, err := x.embedder.Embed(ctx, ProbeText)
	if err != nil {
		return 0, fault.Ensure(err, fault.CodeProvider, "embed bootstrap probe")
	}
	if len(vec) == 0 {
		return 0, fault.New(fault.CodeProvider, "embedding provider returned an empty vector")
	}
	return len(vec), nil
}

// reset replaces both files with an index of dim holding items. The
// docstore is committed before the structure, so an interrupted reset
// leaves entries without vectors and the next Load asks for a reindex.
func (x *Index) reset(ctx context.Context, dim int, items []item) error {
	ctx = context.WithoutCancel(ctx)
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "create index dir", fault.FieldPath(x.dir))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.docs == nil {
		for _, p := range []string{x.structPath, x.docPath, x.docPath + "-journal", x.docPath + "-wal", x.docPath + "-shm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fault.Wrap(err, fault.CodeStorage, "remove stale index file", fault.FieldPath(p))
			}
		}
		docs, err := openDocStore(x.docPath)
		if err != nil {
			return fault.Wrap(err, fault.CodeStorage, "create docstore", fault.FieldPath(x.docPath))
		}
		x.docs = docs
	}

	entries := make([]docEntry, len(items))
	for i, it := range items {
		entries[i] = docEntry{ID: it.id, Seq: i, Content: it.content, Metadata: it.meta}
	}
	meta := map[string]string{"dim": strconv.Itoa(dim), "model": x.model}
	if err := x.docs.replaceAll(ctx, entries, meta); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "write docstore", fault.FieldPath(x.docPath))
	}
	if err := writeStructure(x.structPath, dim, items); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "write index structure", fault.FieldPath(x.structPath))
	}
	x.dim, x.items, x.nextSeq = dim, items, len(items)
	return nil
}

// Upsert embeds the record's rendered text, adds or replaces its entry and
// persists the whole index before returning.
func (x *Index) Upsert(ctx context.Context, rec model.DesignChangeRecord) error {
	if err := x.Load(ctx); err != nil {
		return err
	}
	content := model.RenderText(rec)
	vec, err := x.embedder.Embed(ctx, content)
	if err != nil {
		return fault.Ensure(err, fault.CodeProvider, "embed record", fault.FieldID(rec.ID))
	}
	ctx = context.WithoutCancel(ctx)

	x.mu.Lock()
	defer x.mu.Unlock()

	if len(vec) != x.dim {
		return fault.Errorf(fault.CodeStorage, "embedding dimension %d does not match index dimension %d; run reindex", len(vec), x.dim)
	}

	it := item{vectorItem: vectorItem{id: rec.ID, vec: vec}, content: content, meta: rec.Metadata()}
	next := slices.Clone(x.items)
	if i := slices.IndexFunc(next, func(e item) bool { return e.id == rec.ID }); i >= 0 {
		next[i] = it
	} else {
		next = append(next, it)
	}

	if err := writeStructure(x.structPath, x.dim, next); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "write index structure", fault.FieldPath(x.structPath), fault.FieldID(rec.ID))
	}
	entry := docEntry{ID: rec.ID, Seq: x.nextSeq, Content: content, Metadata: it.meta}
	if err := x.docs.put(ctx, entry); err != nil {
		if rerr := writeStructure(x.structPath, x.dim, x.items); rerr != nil {
			x.logger.Error("vecindex: restore structure after docstore failure", "err", rerr)
		}
		return fault.Wrap(err, fault.CodeStorage, "write docstore entry", fault.FieldPath(x.docPath), fault.FieldID(rec.ID))
	}
	x.items = next
	x.nextSeq++
	return nil
}

// Search returns up to k entries nearest to query by squared L2 distance,
// closest first. Equal distances keep insertion order. An empty index
// returns an empty slice without calling the embedder.
func (x *Index) Search(ctx context.Context, query string, k int) ([]model.ScoredChange, error) {
	if err := x.Load(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultK
	}
	if x.Len() == 0 {
		return []model.ScoredChange{}, nil
	}

	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fault.Ensure(err, fault.CodeProvider, "embed query")
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(vec) != x.dim {
		return nil, fault.Errorf(fault.CodeStorage, "query dimension %d does not match index dimension %d; run reindex", len(vec), x.dim)
	}

	type candidate struct {
		pos  int
		dist float64
	}
	cands := make([]candidate, len(x.items))
	for i, it := range x.items {
		cands[i] = candidate{pos: i, dist: squaredL2(vec, it.vec)}
	}
	slices.SortStableFunc(cands, func(a, b candidate) int { return cmp.Compare(a.dist, b.dist) })

	out := make([]model.ScoredChange, 0, min(k, len(cands)))
	for _, c := range cands[:min(k, len(cands))] {
		it := x.items[c.pos]
		out = append(out, model.ScoredChange{
			Metadata:   it.meta,
			Content:    it.content,
			Distance:   c.dist,
			Similarity: embedding.CosineSimilarity(vec, it.vec),
		})
	}
	return out, nil
}

// Rebuild discards the current contents and indexes records from scratch.
// It works on an index that fails to load, which is how a corrupt index
// is repaired.
func (x *Index) Rebuild(ctx context.Context, records iter.Seq2[model.DesignChangeRecord, error]) (int, error) {
	x.initMu.Lock()
	defer x.initMu.Unlock()

	n, err := x.rebuild(ctx, records)
	if err != nil {
		return 0, err
	}
	x.ready.Store(true)
	return n, nil
}

func (x *Index) rebuild(ctx context.Context, records iter.Seq2[model.DesignChangeRecord, error]) (int, error) {
	dim, items, err := x.embedAll(ctx, records)
	if err != nil {
		return 0, err
	}
	if dim == 0 {
		x.mu.RLock()
		dim = x.dim
		x.mu.RUnlock()
	}
	if dim == 0 {
		d, err := x.probe(ctx)
		if err != nil {
			return 0, err
		}
		dim = d
	}
	if err := x.reset(ctx, dim, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// embedAll embeds records in order without touching disk. A repeated id
// replaces the earlier entry in place. dim is 0 when records is empty.
func (x *Index) embedAll(ctx context.Context, records iter.Seq2[model.DesignChangeRecord, error]) (int, []item, error) {
	var items []item
	pos := make(map[string]int)
	dim := 0
	for rec, err := range records {
		if err != nil {
			return 0, nil, err
		}
		content := model.RenderText(rec)
		vec, err := x.embedder.Embed(ctx, content)
		if err != nil {
			return 0, nil, fault.Ensure(err, fault.CodeProvider, "embed record", fault.FieldID(rec.ID))
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return 0, nil, fault.Errorf(fault.CodeProvider, "embedding dimension changed from %d to %d during rebuild", dim, len(vec))
		}
		it := item{vectorItem: vectorItem{id: rec.ID, vec: vec}, content: content, meta: rec.Metadata()}
		if i, ok := pos[rec.ID]; ok {
			items[i] = it
			continue
		}
		pos[rec.ID] = len(items)
		items = append(items, it)
	}
	return dim, items, nil
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

// Stats loads the index if needed and describes it.
func (x *Index) Stats(ctx context.Context) (Stats, error) {
	if err := x.Load(ctx); err != nil {
		return Stats{Dir: x.dir}, err
	}
	bootstrapped := x.Bootstrapped()
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		Dir:          x.dir,
		Entries:      len(x.items),
		Dim:          x.dim,
		Model:        x.model,
		Bootstrapped: bootstrapped,
	}, nil
}

// Close releases the docstore.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.docs == nil {
		return nil
	}
	err := x.docs.Close()
	x.docs = nil
	x.ready.Store(false)
	return err
}

func writeStructure(path string, dim int, items []item) error {
	vectors := make([]vectorItem, len(items))
	for i, it := range items {
		vectors[i] = it.vectorItem
	}
	data, err := encodeStructure(dim, vectors)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func corrupt(err error, path string) error {
	return fault.Wrap(err, fault.CodeStorage, "index corrupt; run reindex", fault.FieldPath(path))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
