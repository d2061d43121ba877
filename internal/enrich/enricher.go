package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"webchat/backend/internal/logger"
	"webchat/backend/internal/metrics"
	"webchat/backend/internal/search"
)

const (
	MaxPages            = 4
	defaultPageTimeout  = 6 * time.Second
	defaultMaxBodyBytes = int64(1_500_000)
	defaultRedirects    = 3
	userAgent           = "Mozilla/5.0 (compatible; webchat-enricher/1.0)"
)

var (
	errNotHTML      = errors.New("response is not html")
	errEmptySummary = errors.New("no readable paragraphs")
)

type Config struct {
	PageTimeout  time.Duration
	MaxBytes     int64
	MaxRedirects int
	// AllowPrivateHosts disables the private-address guard. Tests only.
	AllowPrivateHosts bool
}

type Enricher struct {
	cfg        Config
	httpClient *http.Client
	guard      urlGuard
	log        *logger.Logger
	metrics    *metrics.Metrics
}

func New(cfg Config, httpClient *http.Client, log *logger.Logger, m *metrics.Metrics) *Enricher {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultRedirects
	}
	guard := urlGuard{allowPrivate: cfg.AllowPrivateHosts}

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if !cfg.AllowPrivateHosts {
			transport.DialContext = secureDialContext(&net.Dialer{Timeout: cfg.PageTimeout})
		}
		httpClient = &http.Client{Transport: transport}
	} else {
		clone := *httpClient
		httpClient = &clone
	}
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("too many redirects")
		}
		_, err := guard.validate(req.URL.String())
		return err
	}

	return &Enricher{
		cfg:        cfg,
		httpClient: httpClient,
		guard:      guard,
		log:        logger.OrNop(log).WithComponent("enrich"),
		metrics:    m,
	}
}

// Enrich summarizes the first min(maxPages, MaxPages, len(entries)) pages concurrently.
// A page that cannot be fetched or parsed keeps its snippet.
func (e *Enricher) Enrich(ctx context.Context, entries []search.Entry, maxPages, maxChars int) []search.Entry {
	out := append([]search.Entry(nil), entries...)
	pages := min(maxPages, MaxPages, len(out))
	if pages <= 0 || maxChars <= 0 {
		return out
	}

	var g errgroup.Group
	g.SetLimit(pages)
	for i := 0; i < pages; i++ {
		i := i
		g.Go(func() error {
			summary, err := e.summarizePage(ctx, out[i].URL, maxChars)
			if err != nil {
				e.metrics.EnrichedPage("failed")
				e.log.WithContext(ctx).Debug("page enrichment skipped", "url", out[i].URL, "error", err)
				return nil
			}
			e.metrics.EnrichedPage("ok")
			out[i].Summary = summary
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) summarizePage(ctx context.Context, rawURL string, maxChars int) (string, error) {
	target, err := e.guard.validate(rawURL)
	if err != nil {
		return "", err
	}

	pageCtx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pageCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return "", fmt.Errorf("%w: %q", errNotHTML, mediaType)
	}

	body, err := readBoundedBody(resp.Body, e.cfg.MaxBytes)
	if err != nil {
		return "", err
	}
	summary, err := summarize(body, maxChars)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(summary) == "" {
		return "", errEmptySummary
	}
	return summary, nil
}

func readBoundedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r, maxBytes))
	if err != nil {
		return nil, err
	}
	return payload, nil
}
