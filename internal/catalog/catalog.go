// Package catalog supplies the list of models to probe.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/openrouter"
)

const DefaultTTL = 24 * time.Hour

// Source lists models from the aggregation API.
type Source interface {
	ListModels(ctx context.Context) ([]openrouter.Model, error)
}

// Catalog serves the free-model list, cached on disk for TTL. A static list,
// when set, bypasses the API entirely.
type Catalog struct {
	Source    Source
	CachePath string // empty keeps the cache in memory only
	TTL       time.Duration
	Static    []domain.ServiceRef
	Logger    *zap.Logger

	now   func() time.Time
	mu    sync.Mutex
	cache *cacheFile
}

type cacheFile struct {
	Models    []domain.ServiceRef `json:"models"`
	Timestamp int64               `json:"timestamp"` // unix ms
}

func New(src Source, cachePath string, ttl time.Duration, log *zap.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{Source: src, CachePath: cachePath, TTL: ttl, Logger: log, now: time.Now}
}

// Models returns a fresh cached list if there is one, otherwise fetches.
// A failed fetch falls back to the cached list regardless of its age.
func (c *Catalog) Models(ctx context.Context) ([]domain.ServiceRef, error) {
	if c.Static != nil {
		return c.Static, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if cf := c.loadCache(); cf != nil && c.clock().Sub(time.UnixMilli(cf.Timestamp)) < c.TTL {
		return cf.Models, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh ignores the cache age and fetches the list again.
func (c *Catalog) Refresh(ctx context.Context) ([]domain.ServiceRef, error) {
	if c.Static != nil {
		return c.Static, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Catalog) refreshLocked(ctx context.Context) ([]domain.ServiceRef, error) {
	raw, err := c.Source.ListModels(ctx)
	if err != nil {
		if cf := c.loadCache(); cf != nil {
			c.Logger.Warn("catalog_fetch_failed_using_cache", zap.Error(err), zap.Int("models", len(cf.Models)))
			return cf.Models, nil
		}
		return nil, fmt.Errorf("fetch models: %w", err)
	}

	models := FreeModels(raw)
	cf := &cacheFile{Models: models, Timestamp: c.clock().UnixMilli()}
	c.cache = cf
	if err := c.writeCache(cf); err != nil {
		c.Logger.Warn("catalog_cache_write_failed", zap.String("path", c.CachePath), zap.Error(err))
	}
	c.Logger.Info("catalog_refreshed", zap.Int("fetched", len(raw)), zap.Int("free", len(models)))
	return models, nil
}

func (c *Catalog) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Catalog) loadCache() *cacheFile {
	if c.cache != nil || c.CachePath == "" {
		return c.cache
	}
	b, err := os.ReadFile(c.CachePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.Logger.Warn("catalog_cache_read_failed", zap.String("path", c.CachePath), zap.Error(err))
		}
		return nil
	}
	var cf cacheFile
	if err := json.Unmarshal(b, &cf); err != nil {
		c.Logger.Warn("catalog_cache_corrupt", zap.String("path", c.CachePath), zap.Error(err))
		return nil
	}
	c.cache = &cf
	return c.cache
}

func (c *Catalog) writeCache(cf *cacheFile) error {
	if c.CachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.CachePath), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(cf)
	if err != nil {
		return err
	}
	tmp := c.CachePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.CachePath)
}

// FreeModels keeps the ":free" variants and fills in display defaults.
func FreeModels(models []openrouter.Model) []domain.ServiceRef {
	out := make([]domain.ServiceRef, 0, len(models))
	for _, m := range models {
		if !strings.Contains(m.ID, ":free") {
			continue
		}
		ref := domain.ServiceRef{
			ID:            domain.ServiceID(m.ID),
			Name:          orDefault(m.Name, m.ID),
			Provider:      orDefault(m.Provider, "Unknown"),
			ContextLength: "Unknown",
			Category:      orDefault(m.Category, "General"),
			Description:   m.Description,
			Type:          orDefault(m.Type, "text"),
		}
		if m.ContextLength > 0 {
			ref.ContextLength = strconv.Itoa(m.ContextLength)
		}
		out = append(out, ref)
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type staticFile struct {
	Models []domain.ServiceRef `yaml:"models"`
}

// LoadStatic reads a YAML model list:
//
//	models:
//	  - id: meta-llama/llama-3-8b-instruct:free
//	    name: Llama 3 8B
//	    provider: Meta
func LoadStatic(path string) ([]domain.ServiceRef, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f staticFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, m := range f.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("parse %s: model %d has no id", path, i)
		}
		if m.Provider == "" {
			f.Models[i].Provider = "Unknown"
		}
	}
	if f.Models == nil {
		f.Models = []domain.ServiceRef{}
	}
	return f.Models, nil
}
