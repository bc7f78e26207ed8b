// Package confluence reads pages from a Confluence space over its REST API.
package confluence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"askverse/internal/domain"
	"askverse/internal/infra/config"
)

const (
	defaultPageSize    = 25
	defaultSearchLimit = 10
	defaultCacheTTL    = 5 * time.Minute
	pageCacheSize      = 512
)

// Client is a Confluence REST client. Fetched pages are cached for CacheTTL
// and every request waits on a shared rate limiter.
type Client struct {
	http        *req.Client
	baseURL     string
	space       string
	pageSize    int
	searchLimit int
	limiter     *rate.Limiter
	cache       *expirable.LRU[string, domain.Document]
	logger      *slog.Logger
}

var (
	_ domain.DocumentSearcher = (*Client)(nil)
	_ domain.PageSource       = (*Client)(nil)
)

// New creates a Client from config.
func New(cfg config.ConfluenceConfig, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.URL, "/")

	hc := req.C().
		SetBaseURL(baseURL).
		SetUserAgent("askverse").
		SetCommonHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		hc.SetTimeout(cfg.Timeout)
	}
	if cfg.Username != "" && cfg.APIToken != "" {
		hc.SetCommonBasicAuth(cfg.Username, cfg.APIToken)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	searchLimit := cfg.SearchLimit
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		http:        hc,
		baseURL:     baseURL,
		space:       cfg.Space,
		pageSize:    pageSize,
		searchLimit: searchLimit,
		limiter:     rate.NewLimiter(limit, max(1, int(cfg.RequestsPerSecond))),
		cache:       expirable.NewLRU[string, domain.Document](pageCacheSize, nil, ttl),
		logger:      logger,
	}
}

// ListPages returns every page in the configured space, following
// start/limit pagination until a short page is returned.
func (c *Client) ListPages(ctx context.Context) ([]domain.PageRef, error) {
	var pages []domain.PageRef
	for start := 0; ; start += c.pageSize {
		body, err := c.get(ctx, "/rest/api/content", map[string]string{
			"spaceKey": c.space,
			"type":     "page",
			"start":    strconv.Itoa(start),
			"limit":    strconv.Itoa(c.pageSize),
			"expand":   "version",
		})
		if err != nil {
			return nil, domain.WrapOp("confluence.ListPages", err)
		}

		results := gjson.GetBytes(body, "results").Array()
		for _, r := range results {
			pages = append(pages, domain.PageRef{
				ID:      r.Get("id").String(),
				Title:   r.Get("title").String(),
				Version: int(r.Get("version.number").Int()),
			})
		}
		if len(results) < c.pageSize {
			return pages, nil
		}
	}
}

// GetPage fetches one page with its storage body.
func (c *Client) GetPage(ctx context.Context, id string) (*domain.Document, error) {
	if doc, ok := c.cache.Get(id); ok {
		return &doc, nil
	}

	body, err := c.get(ctx, "/rest/api/content/"+id, map[string]string{
		"expand": "body.storage,version",
	})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.NewSubSystemError("confluence", "confluence.GetPage", domain.ErrNotFound, id)
		}
		return nil, domain.WrapOp("confluence.GetPage", err)
	}

	doc := c.toDocument(gjson.ParseBytes(body))
	c.cache.Add(id, doc)
	return &doc, nil
}

// Search runs a CQL text search restricted to the configured space. Hits have
// no ranking of their own and carry relevance 1.0.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = c.searchLimit
	}

	cql := fmt.Sprintf(`text ~ "%s"`, escapeCQL(query))
	if c.space != "" {
		cql += fmt.Sprintf(` AND space = "%s"`, escapeCQL(c.space))
	}

	body, err := c.get(ctx, "/rest/api/content/search", map[string]string{
		"cql":    cql,
		"limit":  strconv.Itoa(limit),
		"expand": "body.storage,version",
	})
	if err != nil {
		return nil, domain.WrapOp("confluence.Search", err)
	}

	var hits []domain.ScoredDocument
	gjson.GetBytes(body, "results").ForEach(func(_, r gjson.Result) bool {
		doc := c.toDocument(r)
		c.cache.Add(r.Get("id").String(), doc)
		hits = append(hits, domain.ScoredDocument{Document: doc, Relevance: 1.0})
		return true
	})
	return hits, nil
}

func (c *Client) toDocument(r gjson.Result) domain.Document {
	id := r.Get("id").String()
	doc := domain.Document{
		ID:       DocumentID(id),
		Title:    r.Get("title").String(),
		Content:  CleanHTML(r.Get("body.storage.value").String()),
		Source:   domain.SourceConfluence,
		Version:  int(r.Get("version.number").Int()),
		Metadata: map[string]string{"page_id": id},
	}
	if webui := r.Get("_links.webui").String(); webui != "" {
		doc.URL = c.baseURL + webui
	}
	if c.space != "" {
		doc.Metadata["space"] = c.space
	}
	if when := r.Get("version.when").String(); when != "" {
		if t, err := time.Parse(time.RFC3339, when); err == nil {
			doc.UpdatedAt = t.UTC()
		}
	}
	return doc
}

// DocumentID maps a Confluence page id to the stored document id.
func DocumentID(pageID string) string {
	return "confluence_" + pageID
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrConfluence, err)
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfluence, err)
	}

	c.logger.Debug("confluence request",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	body := resp.Bytes()
	if !resp.IsSuccessState() {
		detail := string(body)
		if len(detail) > 256 {
			detail = detail[:256] + "..."
		}
		se := &statusError{status: resp.StatusCode, body: detail}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w: %w", domain.ErrConfluence, domain.ErrRateLimit, se)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrConfluence, se)
	}
	return body, nil
}

func escapeCQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
