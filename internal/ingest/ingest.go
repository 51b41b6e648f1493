// Package ingest coordinates writes: it stamps design changes and pushes
// them through the vector index, the change log and the latest pointer, in
// that order, one at a time.
package ingest

import (
	"context"
	"iter"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

// VectorIndex is the part of the vector index the coordinator writes to.
type VectorIndex interface {
	Upsert(ctx context.Context, rec model.DesignChangeRecord) error
	Rebuild(ctx context.Context, records iter.Seq2[model.DesignChangeRecord, error]) (int, error)
}

// RecordLog is the durable change log.
type RecordLog interface {
	Append(rec model.DesignChangeRecord) error
	ReadLatest() (*model.DesignChangeRecord, error)
	All() iter.Seq2[model.DesignChangeRecord, error]
}

// Options tunes a Coordinator. Zero values pick production defaults.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func(t time.Time) string
}

// Coordinator serializes ingestion. At most one Ingest is in flight per
// Coordinator; readers of the index and log are never blocked by it.
type Coordinator struct {
	index  VectorIndex
	log    RecordLog
	logger *slog.Logger
	now    func() time.Time
	newID  func(t time.Time) string

	mu       sync.Mutex
	lastTime time.Time
	resumed  bool

	latest Latest
}

// New returns a Coordinator writing to index and log.
func New(index VectorIndex, log RecordLog, opts Options) *Coordinator {
	c := &Coordinator{
		index:  index,
		log:    log,
		logger: opts.Logger,
		now:    opts.Now,
		newID:  opts.NewID,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
		c.newID = func(t time.Time) string {
			return ulid.MustNew(ulid.Timestamp(t), entropy).String()
		}
	}
	c.latest.source = log
	return c
}

// Ingest validates in, stamps it and makes it durable and searchable. A
// failure at any step stops the remaining steps; the latest pointer only
// moves after both the index and the log have the record.
func (c *Coordinator) Ingest(ctx context.Context, in model.DesignChangeInput) (model.DesignChangeRecord, error) {
	if err := in.Validate(); err != nil {
		return model.DesignChangeRecord{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.resume(); err != nil {
		return model.DesignChangeRecord{}, err
	}
	now := c.now().UTC()
	if !now.After(c.lastTime) {
		now = c.lastTime.Add(time.Microsecond)
	}
	rec := in.Stamp(c.newID(now), now)

	if err := c.index.Upsert(ctx, rec); err != nil {
		return model.DesignChangeRecord{}, fault.Ensure(err, fault.CodeStorage, "index upsert", fault.FieldID(rec.ID))
	}
	if err := c.log.Append(rec); err != nil {
		c.logger.Error("ingest: change log append failed after index upsert; entry stays in index until reindex",
			"id", rec.ID, "err", err)
		return model.DesignChangeRecord{}, fault.Ensure(err, fault.CodeStorage, "change log append", fault.FieldID(rec.ID))
	}
	c.lastTime = now
	c.latest.set(rec)

	c.logger.Info("ingest: design change recorded", "id", rec.ID, "title", rec.Title, "change_date", rec.ChangeDate.String())
	return rec, nil
}

// resume picks up created_at ordering from the last logged record, so a
// clock that moved backwards across a restart cannot reorder the log.
// Callers hold c.mu.
func (c *Coordinator) resume() error {
	if c.resumed {
		return nil
	}
	last, err := c.log.ReadLatest()
	if err != nil {
		return fault.Ensure(err, fault.CodeStorage, "read last change")
	}
	if last != nil && last.CreatedAt.After(c.lastTime) {
		c.lastTime = last.CreatedAt.UTC()
	}
	c.resumed = true
	return nil
}

// Latest returns the most recent change, or nil when nothing was recorded.
func (c *Coordinator) Latest() (*model.DesignChangeRecord, error) {
	return c.latest.Get()
}

// Reindex rebuilds the vector index from the change log. Ingestion waits
// until it finishes.
func (c *Coordinator) Reindex(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.index.Rebuild(ctx, c.log.All())
	if err != nil {
		return 0, err
	}
	c.logger.Info("ingest: index rebuilt from change log", "entries", n)
	return n, nil
}
