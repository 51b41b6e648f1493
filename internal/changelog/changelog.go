// Package changelog implements the durable, append-only design-change log.
//
// The log is a JSON Lines file: one record per line, in ingestion order.
// Lines that fail to decode are skipped by every reader, so a torn write at
// the tail never hides the records before it.
package changelog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

// DefaultFileName is the log's file name inside the data directory.
const DefaultFileName = "change_log.jsonl"

const tailBlock = 4096

// Log is an append-only record store backed by a single file.
type Log struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// Open prepares a log at path. The file is created on the first Append.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "create log dir", fault.FieldPath(path))
	}
	return &Log{path: path, logger: logger}, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string { return l.path }

// Append writes rec as one line and fsyncs before returning.
func (l *Log) Append(rec model.DesignChangeRecord) error {
	line, err := encodeLine(rec)
	if err != nil {
		return fault.Wrap(err, fault.CodeStorage, "encode record", fault.FieldID(rec.ID))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fault.Wrap(err, fault.CodeStorage, "open change log", fault.FieldPath(l.path))
	}
	defer f.Close()

	torn, err := endsWithPartialLine(f)
	if err != nil {
		return fault.Wrap(err, fault.CodeStorage, "inspect change log tail", fault.FieldPath(l.path))
	}
	if torn {
		// keep the new record off the torn line
		line = append([]byte{'\n'}, line...)
	}
	if _, err := f.Write(line); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "write change log", fault.FieldPath(l.path), fault.FieldID(rec.ID))
	}
	if err := f.Sync(); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "fsync change log", fault.FieldPath(l.path), fault.FieldID(rec.ID))
	}
	return nil
}

// ReadLatest returns the last well-formed record, or nil if there is none.
// The file is read backwards so the cost does not grow with the log.
func (l *Log) ReadLatest() (*model.DesignChangeRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "open change log", fault.FieldPath(l.path))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "stat change log", fault.FieldPath(l.path))
	}

	var tail []byte
	for pos := info.Size(); pos > 0; {
		n := min(int64(tailBlock), pos)
		pos -= n
		buf := make([]byte, n, int(n)+len(tail))
		if _, err := f.ReadAt(buf, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, fault.Wrap(err, fault.CodeStorage, "read change log", fault.FieldPath(l.path))
		}
		tail = append(buf, tail...)

		for {
			i := bytes.LastIndexByte(tail, '\n')
			if i < 0 {
				break
			}
			line := tail[i+1:]
			tail = tail[:i]
			if rec, ok := l.decode(line, -1); ok {
				return &rec, nil
			}
		}
	}
	if rec, ok := l.decode(tail, 1); ok {
		return &rec, nil
	}
	return nil, nil
}

// All returns a lazy scan of every well-formed record in file order. Each
// range over the sequence reopens the file. A read failure is yielded once
// and ends the scan.
func (l *Log) All() iter.Seq2[model.DesignChangeRecord, error] {
	return func(yield func(model.DesignChangeRecord, error) bool) {
		f, err := os.Open(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(model.DesignChangeRecord{}, fault.Wrap(err, fault.CodeStorage, "open change log", fault.FieldPath(l.path)))
			return
		}
		defer f.Close()

		r := bufio.NewReader(f)
		for lineNo := 1; ; lineNo++ {
			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				if rec, ok := l.decode(line, lineNo); ok {
					if !yield(rec, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(model.DesignChangeRecord{}, fault.Wrap(err, fault.CodeStorage, "read change log", fault.FieldPath(l.path)))
				return
			}
		}
	}
}

// Count returns the number of well-formed records.
func (l *Log) Count() (int, error) {
	n := 0
	for _, err := range l.All() {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// decode parses one line. Blank lines are ignored silently; malformed ones
// are logged. lineNo is -1 when unknown (backwards reads).
func (l *Log) decode(line []byte, lineNo int) (model.DesignChangeRecord, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return model.DesignChangeRecord{}, false
	}
	rec, err := decodeLine(line)
	if err != nil {
		skip := fault.Wrap(err, fault.CodeParseSkip, "skip malformed change log line")
		attrs := []any{"path", l.path, "err", skip}
		if lineNo > 0 {
			attrs = append(attrs, "line", lineNo)
		}
		l.logger.Warn("changelog: skipping malformed line", attrs...)
		return model.DesignChangeRecord{}, false
	}
	return rec, true
}

func endsWithPartialLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// entry is the on-disk shape of a record. Optional fields may be null and
// created_at may be a naive ISO timestamp from older writers.
type entry struct {
	ID           string     `json:"id"`
	ChangeDate   model.Date `json:"change_date"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Author       *string    `json:"author"`
	Organization *string    `json:"organization"`
	ProjectName  *string    `json:"project_name"`
	Client       *string    `json:"client"`
	CreatedAt    string     `json:"created_at"`
}

func encodeLine(rec model.DesignChangeRecord) ([]byte, error) {
	e := entry{
		ID:           rec.ID,
		ChangeDate:   rec.ChangeDate,
		Title:        rec.Title,
		Description:  rec.Description,
		Author:       optional(rec.Author),
		Organization: optional(rec.Organization),
		ProjectName:  optional(rec.ProjectName),
		Client:       optional(rec.Client),
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func decodeLine(line []byte) (model.DesignChangeRecord, error) {
	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		return model.DesignChangeRecord{}, err
	}
	if e.ID == "" {
		return model.DesignChangeRecord{}, errors.New("record has no id")
	}
	createdAt, err := parseCreatedAt(e.CreatedAt)
	if err != nil {
		return model.DesignChangeRecord{}, err
	}
	return model.DesignChangeRecord{
		ID:           e.ID,
		ChangeDate:   e.ChangeDate,
		Title:        e.Title,
		Description:  e.Description,
		Author:       deref(e.Author),
		Organization: deref(e.Organization),
		ProjectName:  deref(e.ProjectName),
		Client:       deref(e.Client),
		CreatedAt:    createdAt,
	}, nil
}

func parseCreatedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
