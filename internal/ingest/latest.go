package ingest

import (
	"sync"

	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

// Latest holds the most recently ingested record. When empty it falls back
// to the last well-formed line of the change log and caches what it finds.
type Latest struct {
	source interface {
		ReadLatest() (*model.DesignChangeRecord, error)
	}

	mu  sync.RWMutex
	rec *model.DesignChangeRecord
}

func (l *Latest) set(rec model.DesignChangeRecord) {
	l.mu.Lock()
	l.rec = &rec
	l.mu.Unlock()
}

// Get returns a copy of the latest record, or nil.
func (l *Latest) Get() (*model.DesignChangeRecord, error) {
	l.mu.RLock()
	rec := l.rec
	l.mu.RUnlock()
	if rec != nil {
		cp := *rec
		return &cp, nil
	}
	if l.source == nil {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec == nil {
		found, err := l.source.ReadLatest()
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, nil
		}
		l.rec = found
	}
	cp := *l.rec
	return &cp, nil
}
