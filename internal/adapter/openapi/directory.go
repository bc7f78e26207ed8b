// Package openapi indexes OpenAPI documents into callable endpoints and
// invokes them.
package openapi

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"askverse/internal/domain"
)

var methods = []string{"get", "post", "put", "delete", "patch"}

// Spec is one loaded OpenAPI document.
type Spec struct {
	ID        string            `json:"id"`
	Path      string            `json:"path"`
	Title     string            `json:"title"`
	Version   string            `json:"version"`
	Endpoints []domain.Endpoint `json:"endpoints"`
}

// Directory holds the endpoints of every loaded spec.
type Directory struct {
	mu           sync.RWMutex
	specs        map[string]*Spec
	maxEndpoints int
	logger       *slog.Logger
}

var _ domain.EndpointDirectory = (*Directory)(nil)

// NewDirectory creates an empty directory. FindEndpoints returns at most
// maxEndpoints matches; 0 means no cap.
func NewDirectory(maxEndpoints int, logger *slog.Logger) *Directory {
	return &Directory{
		specs:        make(map[string]*Spec),
		maxEndpoints: maxEndpoints,
		logger:       logger,
	}
}

// Load adds every *.json, *.yaml and *.yml file under dir. A missing dir is
// not an error. Files that fail to parse are logged and skipped.
func (d *Directory) Load(dir string) error {
	err := filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !isSpecFile(path) {
			return nil
		}
		if _, err := d.AddSpec(path); err != nil {
			d.logger.Warn("skipping api spec", "path", path, "error", err)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		d.logger.Info("api specs directory not found", "dir", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: walk %s: %v", domain.ErrSpecLoad, dir, err)
	}
	return nil
}

func isSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// SpecID derives the stable id of the spec stored at path.
func SpecID(path string) string {
	sum := md5.Sum([]byte(path))
	return "api_" + hex.EncodeToString(sum[:])
}

// AddSpec parses the file at path and adds (or replaces) its endpoints.
func (d *Directory) AddSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrSpecLoad, path, err)
	}
	spec, err := ParseSpec(SpecID(path), raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	spec.Path = path
	if spec.Title == "" {
		spec.Title = filepath.Base(path)
	}

	d.mu.Lock()
	d.specs[spec.ID] = spec
	d.mu.Unlock()

	d.logger.Debug("api spec loaded", "id", spec.ID, "title", spec.Title, "endpoints", len(spec.Endpoints))
	return spec, nil
}

// RemoveSpec drops a spec by id and reports whether it was present.
func (d *Directory) RemoveSpec(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.specs[id]
	delete(d.specs, id)
	return ok
}

// Specs returns the loaded specs ordered by title.
func (d *Directory) Specs() []*Spec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Spec, 0, len(d.specs))
	for _, s := range d.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// List returns every endpoint, grouped by spec.
func (d *Directory) List() []domain.Endpoint {
	var out []domain.Endpoint
	for _, s := range d.Specs() {
		out = append(out, s.Endpoints...)
	}
	return out
}

// FindEndpoints returns endpoints whose summary, description, path or
// operation id contains the query (case-insensitive), or any query word of
// three or more letters.
func (d *Directory) FindEndpoints(query string) []domain.Endpoint {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	words := queryWords(q)

	var out []domain.Endpoint
	for _, ep := range d.List() {
		hay := strings.ToLower(strings.Join([]string{ep.Summary, ep.Description, ep.Path, ep.OperationID}, "\n"))
		if !matches(hay, q, words) {
			continue
		}
		out = append(out, ep)
		if d.maxEndpoints > 0 && len(out) >= d.maxEndpoints {
			break
		}
	}
	return out
}

func matches(hay, q string, words []string) bool {
	if strings.Contains(hay, q) {
		return true
	}
	for _, w := range words {
		if strings.Contains(hay, w) {
			return true
		}
	}
	return false
}

// stopWords are frequent words that would match almost every description.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "with": true, "from": true,
	"how": true, "are": true, "this": true, "that": true, "get": true, "give": true,
	"tell": true, "about": true, "please": true, "can": true, "you": true, "all": true,
}

func queryWords(q string) []string {
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var words []string
	for _, f := range fields {
		if len([]rune(f)) >= 3 && !stopWords[f] {
			words = append(words, f)
		}
	}
	return words
}

// ParseSpec decodes a JSON or YAML OpenAPI document and extracts its
// endpoints. The endpoint URL is servers[0].url joined with the path.
func ParseSpec(id string, raw []byte) (*Spec, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSpecLoad, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", domain.ErrSpecLoad)
	}
	doc = normalize(doc).(map[string]any)

	spec := &Spec{ID: id}
	if info, ok := doc["info"].(map[string]any); ok {
		spec.Title = str(info["title"])
		spec.Version = str(info["version"])
	}

	baseURL := ""
	if servers, ok := doc["servers"].([]any); ok && len(servers) > 0 {
		if s0, ok := servers[0].(map[string]any); ok {
			baseURL = strings.TrimRight(str(s0["url"]), "/")
		}
	}

	paths, _ := doc["paths"].(map[string]any)
	pathKeys := make([]string, 0, len(paths))
	for p := range paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	for _, p := range pathKeys {
		item, ok := paths[p].(map[string]any)
		if !ok {
			continue
		}
		shared := parseParameters(doc, item["parameters"])
		for _, m := range methods {
			op, ok := item[m].(map[string]any)
			if !ok {
				continue
			}
			ep := domain.Endpoint{
				SpecID:      id,
				Path:        p,
				Method:      strings.ToUpper(m),
				URL:         baseURL + p,
				Summary:     str(op["summary"]),
				Description: str(op["description"]),
				OperationID: str(op["operationId"]),
				Parameters:  mergeParameters(shared, parseParameters(doc, op["parameters"])),
			}
			if body, ok := op["requestBody"].(map[string]any); ok {
				ep.RequestBody = body
			}
			spec.Endpoints = append(spec.Endpoints, ep)
		}
	}
	return spec, nil
}

func parseParameters(doc map[string]any, v any) []domain.Parameter {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []domain.Parameter
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if ref := str(m["$ref"]); ref != "" {
			if m, ok = resolveRef(doc, ref); !ok {
				continue
			}
		}
		p := domain.Parameter{
			Name:        str(m["name"]),
			In:          str(m["in"]),
			Description: str(m["description"]),
		}
		if p.Name == "" {
			continue
		}
		p.Required, _ = m["required"].(bool)
		if p.In == "path" {
			p.Required = true
		}
		if s, ok := m["schema"].(map[string]any); ok {
			p.Schema = s
		}
		out = append(out, p)
	}
	return out
}

// mergeParameters lets operation-level parameters override path-level ones
// with the same name and location.
func mergeParameters(shared, own []domain.Parameter) []domain.Parameter {
	if len(shared) == 0 {
		return own
	}
	out := append([]domain.Parameter(nil), own...)
	for _, s := range shared {
		dup := false
		for _, o := range own {
			if o.Name == s.Name && o.In == s.In {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

// resolveRef follows a local "#/a/b/c" reference.
func resolveRef(doc map[string]any, ref string) (map[string]any, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, false
	}
	var cur any = doc
	for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = m[strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")]
	}
	m, ok := cur.(map[string]any)
	return m, ok
}

// normalize converts the map[any]any values yaml produces for non-string
// keys (such as response codes) into map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
