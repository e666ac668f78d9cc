package buffer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shiplog/shiplog-go/internal/event"
)

// MaxRetries is the resend budget: records reaching it are excluded on
// every read, which effectively deletes them.
const MaxRetries = 3

const pendingFile = "pending.jsonl"

type Record struct {
	Event      event.Event
	RetryCount int
}

type persistedRecord struct {
	Content    string         `json:"content"`
	Level      string         `json:"level"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
	RetryCount int            `json:"retry_count"`
}

// Store holds events that failed transport-level delivery, one JSON
// record per line. Appends are cheap; a torn final line from a crashed
// writer is skipped on read.
type Store struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time
}

func Open(dir string, maxEntries int, maxAge time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create buffer dir: %w", err)
	}
	return &Store{
		path:       filepath.Join(dir, pendingFile),
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        time.Now,
	}, nil
}

func (s *Store) Save(records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open pending store: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(encodeRecord(rec))
		if err != nil {
			return fmt.Errorf("encode pending record: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("append pending records: %w", err)
	}
	return f.Sync()
}

// LoadPending reads every stored record, drops unparsable lines, prunes
// over-retried and stale records, caps the result to the newest
// maxEntries, and returns the survivors oldest-first.
func (s *Store) LoadPending() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Update runs one read-modify-write pass against the store: fn receives
// the pruned pending records and returns the set to keep. The store
// lock is held for the whole pass, so no Save can slip in between the
// read and the rewrite and be lost.
func (s *Store) Update(fn func(pending []Record) []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.loadLocked()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	return s.replaceLocked(fn(pending))
}

func (s *Store) loadLocked() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open pending store: %w", err)
	}
	defer f.Close()

	cutoff := s.now().Add(-s.maxAge)
	records := make([]Record, 0)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var pr persistedRecord
		if err := json.Unmarshal(scanner.Bytes(), &pr); err != nil {
			continue
		}
		rec, err := decodeRecord(pr)
		if err != nil {
			continue
		}
		if rec.RetryCount >= MaxRetries {
			continue
		}
		if rec.Event.CreatedAt.Before(cutoff) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pending store: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Event.CreatedAt.Before(records[j].Event.CreatedAt)
	})
	if s.maxEntries > 0 && len(records) > s.maxEntries {
		records = records[len(records)-s.maxEntries:]
	}
	return records, nil
}

// ReplacePending atomically overwrites the store with exactly the given
// records. An empty set deletes the store.
func (s *Store) ReplacePending(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(records)
}

func (s *Store) replaceLocked(records []Record) error {
	if len(records) == 0 {
		return s.removeLocked()
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), pendingFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create replacement store: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		line, err := json.Marshal(encodeRecord(rec))
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encode pending record: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write replacement store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync replacement store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close replacement store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("swap pending store: %w", err)
	}
	return nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked()
}

func (s *Store) removeLocked() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pending store: %w", err)
	}
	return nil
}

func encodeRecord(rec Record) persistedRecord {
	return persistedRecord{
		Content:    rec.Event.Content,
		Level:      string(rec.Event.Level),
		UserID:     rec.Event.UserID,
		Metadata:   rec.Event.Metadata,
		CreatedAt:  rec.Event.CreatedAt.Format(event.TimeLayout),
		RetryCount: rec.RetryCount,
	}
}

func decodeRecord(pr persistedRecord) (Record, error) {
	createdAt, err := time.Parse(event.TimeLayout, pr.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	if pr.RetryCount < 0 {
		return Record{}, fmt.Errorf("negative retry count %d", pr.RetryCount)
	}
	return Record{
		Event: event.Event{
			Content:   pr.Content,
			Level:     event.Level(pr.Level),
			UserID:    pr.UserID,
			Metadata:  pr.Metadata,
			CreatedAt: createdAt,
		},
		RetryCount: pr.RetryCount,
	}, nil
}
