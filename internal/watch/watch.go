package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Package watch holds the declarative watch definitions: which board to
// scan, what to look for, and where matches go.

// Schedule types.
const (
	ScheduleHourly = "hourly"
	ScheduleDaily  = "daily"
	ScheduleCustom = "custom"
)

// Schedule describes when a watch is due.
type Schedule struct {
	Type string `json:"type" yaml:"type"`
	// Time is the HH:MM wall time for daily schedules.
	Time string `json:"time" yaml:"time"`
	// IntervalMinutes is the period for custom schedules.
	IntervalMinutes int `json:"interval_minutes" yaml:"interval_minutes"`
}

// Watch is a single board-scan definition.
type Watch struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Board     string   `json:"board" yaml:"board"`
	PostCount int      `json:"post_count" yaml:"post_count"`
	Keywords  []string `json:"keywords" yaml:"keywords"`
	ChatID    string   `json:"chat_id" yaml:"chat_id"`
	Schedule  Schedule `json:"schedule" yaml:"schedule"`
	Enabled   *bool    `json:"enabled" yaml:"enabled"`
}

// EnabledValue returns the enabled flag defaulting to true.
func (w Watch) EnabledValue() bool {
	if w.Enabled == nil {
		return true
	}
	return *w.Enabled
}

const defaultPostCount = 20

// registryFile is the structure of the watches configuration file.
type registryFile struct {
	Watches []Watch `json:"watches" yaml:"watches"`
}

// Registry materializes watch definitions loaded from a config file.
type Registry struct {
	mu      sync.RWMutex
	watches []Watch
	idx     map[string]Watch
}

// LoadRegistry loads the watch registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("watches file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watches file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read watches file: %w", err)
	}

	fileReg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(fileReg.Watches) == 0 {
		return nil, errors.New("watches file contains no watch entries")
	}

	reg := &Registry{
		watches: make([]Watch, len(fileReg.Watches)),
		idx:     make(map[string]Watch, len(fileReg.Watches)),
	}
	for i := range fileReg.Watches {
		w := sanitizeWatch(fileReg.Watches[i])
		if err := validateWatch(w); err != nil {
			return nil, fmt.Errorf("watches[%d]: %w", i, err)
		}
		if _, exists := reg.idx[w.ID]; exists {
			return nil, fmt.Errorf("duplicate watch id %q", w.ID)
		}
		reg.watches[i] = w
		reg.idx[w.ID] = w
	}

	return reg, nil
}

// parseRegistry attempts to decode the watches file content.
func parseRegistry(data []byte, ext string) (registryFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg registryFile
		if err := d.fn(data, &reg); err == nil {
			return reg, nil
		}
	}

	return registryFile{}, errors.New("watches file format not recognized (expected YAML or JSON)")
}

func sanitizeWatch(w Watch) Watch {
	w.ID = strings.TrimSpace(w.ID)
	w.Name = strings.TrimSpace(w.Name)
	w.Board = strings.TrimSpace(w.Board)
	w.ChatID = strings.TrimSpace(w.ChatID)
	w.Schedule.Type = strings.ToLower(strings.TrimSpace(w.Schedule.Type))
	w.Schedule.Time = strings.TrimSpace(w.Schedule.Time)

	if w.PostCount <= 0 {
		w.PostCount = defaultPostCount
	}
	keywords := make([]string, 0, len(w.Keywords))
	for _, kw := range w.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	w.Keywords = keywords

	if w.Enabled == nil {
		def := true
		w.Enabled = &def
	}
	return w
}

func validateWatch(w Watch) error {
	if w.ID == "" {
		return errors.New("id is required")
	}
	if w.Board == "" {
		return fmt.Errorf("board is required for watch %q", w.ID)
	}
	if w.ChatID == "" {
		return fmt.Errorf("chat_id is required for watch %q", w.ID)
	}
	if w.PostCount > 100 {
		return fmt.Errorf("post_count must be at most 100 for watch %q", w.ID)
	}
	switch w.Schedule.Type {
	case ScheduleHourly, ScheduleDaily:
	case ScheduleCustom:
		if w.Schedule.IntervalMinutes <= 0 {
			return fmt.Errorf("interval_minutes is required for custom schedule on watch %q", w.ID)
		}
	default:
		return fmt.Errorf("unknown schedule type %q for watch %q", w.Schedule.Type, w.ID)
	}
	return nil
}

// All returns a copy of the loaded watches.
func (r *Registry) All() []Watch {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Watch, len(r.watches))
	copy(out, r.watches)
	return out
}

// Enabled returns watches that are enabled.
func (r *Registry) Enabled() []Watch {
	all := r.All()
	out := make([]Watch, 0, len(all))
	for _, w := range all {
		if w.EnabledValue() {
			out = append(out, w)
		}
	}
	return out
}

// ByID returns the watch with the given id, if loaded.
func (r *Registry) ByID(id string) (Watch, bool) {
	if r == nil {
		return Watch{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Watch{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.idx[id]
	return w, ok
}
