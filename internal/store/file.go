package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"planner/internal/config"
	appLog "planner/internal/log"
	"planner/internal/model"
)

type fileData struct {
	Items       []model.ItemSpec   `yaml:"items"`
	Completions []model.Completion `yaml:"completions"`
}

// FileStore keeps everything in memory and rewrites a YAML data file on
// every change.
type FileStore struct {
	path string

	mu          sync.RWMutex
	items       []model.Item
	completions []model.Completion
	dedupe      map[string]int
}

// OpenFile loads path, or starts empty if it does not exist yet.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, dedupe: make(map[string]int)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		appLog.Info("data file not found; starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var fd fileData
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("parse data file %s: %w", path, err)
	}
	for _, spec := range fd.Items {
		it, err := spec.Build()
		if err != nil {
			// Keep the rest of the file usable.
			appLog.Error("skipping invalid item", err, "id", spec.ID, "title", spec.Title)
			continue
		}
		s.items = append(s.items, it)
	}
	for _, c := range fd.Completions {
		s.appendCompletion(c)
	}
	appLog.Info("data file loaded", "path", path, "items", len(s.items), "completions", len(s.completions))
	return s, nil
}

func (s *FileStore) appendCompletion(c model.Completion) {
	if key := c.DedupeKey(); key != "" {
		s.dedupe[key] = len(s.completions)
	}
	s.completions = append(s.completions, c)
}

// save must be called with s.mu held.
func (s *FileStore) save() error {
	fd := fileData{
		Items:       make([]model.ItemSpec, 0, len(s.items)),
		Completions: s.completions,
	}
	for _, it := range s.items {
		fd.Items = append(fd.Items, model.SpecOf(it))
	}
	data, err := yaml.Marshal(&fd)
	if err != nil {
		return err
	}
	if err := config.WriteFileAtomic(s.path, data, ".planner-data-*.tmp"); err != nil {
		return fmt.Errorf("save data file: %w", err)
	}
	return nil
}

func (s *FileStore) Items(ctx context.Context) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Item(nil), s.items...), nil
}

func (s *FileStore) Item(ctx context.Context, id string) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.ID == id {
			return it, nil
		}
	}
	return model.Item{}, ErrNotFound
}

func (s *FileStore) PutItem(ctx context.Context, it model.Item) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it.ID == "" {
		it.ID = newID()
	}
	next := slices.Clone(s.items)
	if i := slices.IndexFunc(next, func(x model.Item) bool { return x.ID == it.ID }); i >= 0 {
		next[i] = it
	} else {
		next = append(next, it)
	}
	if err := s.commitItems(next); err != nil {
		return model.Item{}, err
	}
	return it, nil
}

func (s *FileStore) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.items, func(x model.Item) bool { return x.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	return s.commitItems(slices.Delete(slices.Clone(s.items), i, i+1))
}

func (s *FileStore) ReplaceSource(ctx context.Context, source string, items []model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]model.Item, 0, len(s.items)+len(items))
	for _, it := range s.items {
		if it.Source != source {
			kept = append(kept, it)
		}
	}
	for _, it := range items {
		it.Source = source
		if it.ID == "" {
			it.ID = newID()
		}
		kept = append(kept, it)
	}
	return s.commitItems(kept)
}

// commitItems installs next and writes the data file, keeping the previous
// items when the write fails. Callers hold s.mu.
func (s *FileStore) commitItems(next []model.Item) error {
	prev := s.items
	s.items = next
	if err := s.save(); err != nil {
		s.items = prev
		return err
	}
	return nil
}

func (s *FileStore) Completions(ctx context.Context) ([]model.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Completion(nil), s.completions...), nil
}

func (s *FileStore) RecordCompletion(ctx context.Context, c model.Completion) (model.Completion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key := c.DedupeKey(); key != "" {
		if i, ok := s.dedupe[key]; ok {
			return s.completions[i], false, nil
		}
	}
	if c.ID == "" {
		c.ID = newID()
	}
	s.appendCompletion(c)
	if err := s.save(); err != nil {
		s.completions = s.completions[:len(s.completions)-1]
		delete(s.dedupe, c.DedupeKey())
		return model.Completion{}, false, err
	}
	return c, true, nil
}

func (s *FileStore) Close() error { return nil }
