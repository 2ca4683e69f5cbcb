// Package description looks up a short encyclopedia summary for a species
// name using the Wikipedia REST API.
package description

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/k3a/html2text"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/your-org/reserve/internal/config"
	"github.com/your-org/reserve/internal/observability"
)

const (
	NoDescription = "No description found."
	NoSpeciesName = "No species name provided."
)

// Format: <client>/<version> (<contact>) <library>/<version>, per the
// Wikimedia User-Agent policy.
const defaultUserAgent = "Reserve/1.0 (https://github.com/your-org/reserve) Go-HTTP-Client/%s"

var errNotFound = errors.New("summary not found")

type summary struct {
	Extract     string `json:"extract"`
	ExtractHTML string `json:"extract_html"`
}

// cached summaries; a zero entry records a 404.
type entry struct {
	text  string
	found bool
}

// Resolver resolves species names to descriptions. It is safe for
// concurrent use.
type Resolver struct {
	client    *http.Client
	baseURL   string
	userAgent string
	timeout   time.Duration
	limiter   *rate.Limiter
	cache     *cache.Cache
	group     singleflight.Group
}

func NewResolver(cfg config.DescriptionConfig) *Resolver {
	ua := cfg.UserAgent
	if ua == "" {
		ua = fmt.Sprintf(defaultUserAgent, runtime.Version())
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Resolver{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: ua,
		timeout:   cfg.Timeout,
		limiter:   rate.NewLimiter(limit, 1),
		cache:     cache.New(cfg.CacheTTL, 0),
	}
}

// Resolve never fails: lookup errors are logged and the next name variation
// is tried. Blank names short-circuit without a network call.
func (r *Resolver) Resolve(ctx context.Context, name string) string {
	variations := Variations(name)
	if len(variations) == 0 {
		return NoSpeciesName
	}

	for _, v := range variations {
		text, err := r.lookup(ctx, v)
		switch {
		case err == nil && text != "":
			observability.DescriptionLookups.WithLabelValues("found").Inc()
			return text
		case errors.Is(err, errNotFound):
			observability.DescriptionLookups.WithLabelValues("not_found").Inc()
		case err != nil:
			observability.DescriptionLookups.WithLabelValues("error").Inc()
			slog.Warn("description lookup failed", "query", v, "error", err)
			if ctx.Err() != nil {
				return NoDescription
			}
		default:
			observability.DescriptionLookups.WithLabelValues("empty").Inc()
		}
	}
	return NoDescription
}

// Variations returns up to three distinct lookup keys in order: the trimmed
// name, the part before the first comma, and the last two words.
func Variations(name string) []string {
	full := strings.TrimSpace(name)
	if full == "" {
		return nil
	}

	out := []string{full}
	add := func(v string) {
		if v == "" {
			return
		}
		for _, existing := range out {
			if existing == v {
				return
			}
		}
		out = append(out, v)
	}

	if before, _, ok := strings.Cut(full, ","); ok {
		add(strings.TrimSpace(before))
	}
	if words := strings.Fields(full); len(words) >= 3 {
		add(strings.Join(words[len(words)-2:], " "))
	}
	return out
}

func (r *Resolver) lookup(ctx context.Context, query string) (string, error) {
	if v, ok := r.cache.Get(query); ok {
		e := v.(entry)
		if !e.found {
			return "", errNotFound
		}
		return e.text, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The shared fetch is detached from the caller that started it; each
	// caller stops waiting on its own context.
	ch := r.group.DoChan(query, func() (interface{}, error) {
		fctx, cancel := r.detach(ctx)
		defer cancel()

		text, err := r.fetch(fctx, query)
		switch {
		case errors.Is(err, errNotFound):
			r.cache.SetDefault(query, entry{})
		case err == nil && text != "":
			r.cache.SetDefault(query, entry{text: text, found: true})
		}
		return text, err
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Resolver) fetch(ctx context.Context, query string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := r.baseURL + "/page/summary/" + url.PathEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", errNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("summary returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var s summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return "", fmt.Errorf("decode summary: %w", err)
	}
	slog.Debug("description lookup", "query", query, "duration", time.Since(start))

	if text := strings.TrimSpace(s.Extract); text != "" {
		return text, nil
	}
	if s.ExtractHTML != "" {
		return strings.TrimSpace(html2text.HTML2Text(s.ExtractHTML)), nil
	}
	return "", nil
}
