// Package templates renders canned agent responses.
package templates

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pytake/backend/internal/apperr"
	"gopkg.in/yaml.v3"
)

const defaultCacheSize = 256

// Template is a named message body with text/template placeholders ({{.name}})
type Template struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Language   string     `json:"language,omitempty" yaml:"language,omitempty"`
	Category   string     `json:"category,omitempty" yaml:"category,omitempty"`
	Body       string     `json:"body" yaml:"body"`
	UsageCount uint64     `json:"usageCount" yaml:"-"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty" yaml:"-"`
}

// File is the on-disk layout of a templates file
type File struct {
	Templates []Template `yaml:"templates"`
}

// Renderer holds templates, renders them and tracks usage. Parsed templates
// are cached by id and body so edits take effect without a restart.
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]*Template
	parsed    *lru.Cache[string, *template.Template]
	now       func() time.Time
}

func NewRenderer(cacheSize int) (*Renderer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *template.Template](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		templates: make(map[string]*Template),
		parsed:    cache,
		now:       time.Now,
	}, nil
}

// LoadFile reads templates from a YAML file and adds them. Nothing is
// applied unless every template in the file is valid.
func (r *Renderer) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read templates file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse templates file: %w", err)
	}
	for _, t := range f.Templates {
		if err := validate(t); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for _, t := range f.Templates {
		if err := r.Upsert(t); err != nil {
			return err
		}
	}
	return nil
}

func validate(t Template) error {
	if t.ID == "" {
		return apperr.Validation("template id is required")
	}
	if _, err := parse(t.ID, t.Body); err != nil {
		return apperr.Validation("template %s: %v", t.ID, err)
	}
	return nil
}

// Upsert validates and stores t, keeping usage counters of an existing template
func (r *Renderer) Upsert(t Template) error {
	if err := validate(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.templates[t.ID]; ok {
		t.UsageCount = existing.UsageCount
		t.LastUsedAt = existing.LastUsedAt
	}
	r.templates[t.ID] = &t
	return nil
}

// Get returns a copy of the template
func (r *Renderer) Get(id string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return Template{}, apperr.NotFound("template %s not found", id)
	}
	return *t, nil
}

// List returns all templates ordered by id
func (r *Renderer) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Render executes the template with vars. A placeholder without a value is a validation error.
func (r *Renderer) Render(_ context.Context, id string, vars map[string]string) (string, error) {
	t, err := r.Get(id)
	if err != nil {
		return "", err
	}

	key := t.ID + "\x00" + t.Body
	tmpl, ok := r.parsed.Get(key)
	if !ok {
		tmpl, err = parse(t.ID, t.Body)
		if err != nil {
			return "", apperr.Validation("template %s: %v", id, err)
		}
		r.parsed.Add(key, tmpl)
	}

	if vars == nil {
		vars = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", apperr.Validation("failed to render template %s: %v", id, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RecordUsage bumps the usage counter of a template
func (r *Renderer) RecordUsage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return apperr.NotFound("template %s not found", id)
	}
	now := r.now().UTC()
	t.UsageCount++
	t.LastUsedAt = &now
	return nil
}

func parse(id, body string) (*template.Template, error) {
	return template.New(id).Option("missingkey=error").Parse(body)
}
