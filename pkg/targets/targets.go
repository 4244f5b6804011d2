package targets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Package targets loads the hosts a probe runs against from YAML/JSON files.

const (
	defaultTimeoutMs        = 5000
	defaultConnectTimeoutMs = 2000
)

// Target is a single host to probe.
type Target struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	BaseURL          string            `json:"base_url" yaml:"base_url"`
	TimeoutMs        int               `json:"timeout_ms" yaml:"timeout_ms"`
	ConnectTimeoutMs int               `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	Headers          map[string]string `json:"headers" yaml:"headers"`
}

type configFile struct {
	Targets []Target `json:"targets" yaml:"targets"`
}

// Registry holds targets loaded from a file, in file order.
type Registry struct {
	mu      sync.RWMutex
	targets []Target
	idx     map[string]Target
}

// LoadRegistry loads the target registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("targets file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	cf, err := parseTargets(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return NewRegistry(cf.Targets)
}

// NewRegistry sanitizes and validates the given targets.
func NewRegistry(list []Target) (*Registry, error) {
	if len(list) == 0 {
		return nil, errors.New("targets file contains no targets entries")
	}

	reg := &Registry{
		targets: make([]Target, len(list)),
		idx:     make(map[string]Target, len(list)),
	}
	for i := range list {
		t := sanitizeTarget(list[i])
		if err := validateTarget(t); err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		if _, exists := reg.idx[t.ID]; exists {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		reg.targets[i] = t
		reg.idx[t.ID] = t
	}
	return reg, nil
}

func parseTargets(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	known := false
	for _, d := range decoders {
		if ext == d.ext {
			known = true
		}
	}

	for _, d := range decoders {
		if known && ext != d.ext {
			continue
		}
		if cf, err := unmarshalTargets(d.name, data, d.fn); err == nil {
			return cf, nil
		}
	}

	return configFile{}, errors.New("targets file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

func unmarshalTargets(name string, data []byte, fn unmarshalFn) (configFile, error) {
	var cf configFile
	if err := fn(data, &cf); err != nil {
		return configFile{}, fmt.Errorf("decode %s targets: %w", name, err)
	}
	return cf, nil
}

func sanitizeTarget(t Target) Target {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	t.BaseURL = strings.TrimRight(strings.TrimSpace(t.BaseURL), "/")

	if t.TimeoutMs <= 0 {
		t.TimeoutMs = defaultTimeoutMs
	}
	if t.ConnectTimeoutMs <= 0 {
		t.ConnectTimeoutMs = defaultConnectTimeoutMs
	}
	t.Headers = sanitizeHeaders(t.Headers)
	return t
}

// sanitizeHeaders trims and removes empty headers.
func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func validateTarget(t Target) error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required for target %q", t.ID)
	}
	if t.BaseURL == "" {
		return fmt.Errorf("base_url is required for target %q", t.ID)
	}
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url for target %q: %w", t.ID, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url for target %q must be an absolute http(s) url", t.ID)
	}
	return nil
}

// All returns all configured targets.
func (r *Registry) All() []Target {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// ByID returns the target entry for the given id, if loaded.
func (r *Registry) ByID(id string) (Target, bool) {
	if r == nil {
		return Target{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Target{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.idx[id]
	return t, ok
}

// Timeout returns the overall request timeout for the target.
func (t Target) Timeout() time.Duration {
	if t.TimeoutMs <= 0 {
		return time.Duration(defaultTimeoutMs) * time.Millisecond
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the dial timeout for the target.
func (t Target) ConnectTimeout() time.Duration {
	if t.ConnectTimeoutMs <= 0 {
		return time.Duration(defaultConnectTimeoutMs) * time.Millisecond
	}
	return time.Duration(t.ConnectTimeoutMs) * time.Millisecond
}
