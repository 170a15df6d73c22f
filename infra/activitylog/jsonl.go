package activitylog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
)

// JSONLStore appends entries to a JSON lines file.
type JSONLStore struct {
	path string
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewJSONLStore(path string) (*JSONLStore, error) {
	s := &JSONLStore{path: path, seen: map[string]struct{}{}}
	existing, err := s.read()
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range existing {
		s.seen[e.ID] = struct{}{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return s, nil
}

func (s *JSONLStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[e.ID]; dup && e.ID != "" {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := json.NewEncoder(f).Encode(e); err != nil {
		return err
	}
	s.seen[e.ID] = struct{}{}
	return nil
}

func (s *JSONLStore) Query(_ context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.read()
	if err != nil {
		return nil, err
	}
	var res []Entry
	for _, e := range all {
		if !q.match(e) {
			continue
		}
		res = append(res, e)
		if q.Limit > 0 && len(res) == q.Limit {
			break
		}
	}
	return res, nil
}

// read skips malformed lines.
func (s *JSONLStore) read() ([]Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var res []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		res = append(res, e)
	}
	return res, scanner.Err()
}

func (s *JSONLStore) Close() error { return nil }
