package validation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultSchemaURL is the published Topo4D extension schema.
const DefaultSchemaURL = "https://tum-rsa.github.io/topo4d/v1.0.0/schema.json"

// DefaultFetchTimeout bounds the schema download, including referenced
// schemas.
const DefaultFetchTimeout = 30 * time.Second

// maxSchemaSize limits a single schema document.
const maxSchemaSize = 8 << 20 // 8 MB

// Options configures schema loading.
type Options struct {
	// URL of the schema. http(s) and file URLs are supported, as are plain
	// filesystem paths.
	URL string
	// Client performs HTTP fetches; http.DefaultClient when nil.
	Client *http.Client
	// Timeout bounds the whole load; DefaultFetchTimeout when zero.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Load fetches and compiles the schema at opts.URL. Schemas it references
// are fetched through the same client. Draft-07 applies unless the schema
// declares otherwise.
func Load(ctx context.Context, opts Options) (*Validator, error) {
	if opts.URL == "" {
		opts.URL = DefaultSchemaURL
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	location, err := resolveLocation(opts.URL)
	if err != nil {
		return nil, err
	}

	hl := &httpLoader{ctx: ctx, client: opts.Client, logger: opts.Logger}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft7)
	c.UseLoader(jsonschema.SchemeURLLoader{
		"file":  jsonschema.FileLoader{},
		"http":  hl,
		"https": hl,
	})

	schema, err := c.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", opts.URL, err)
	}

	opts.Logger.Info("Schema loaded", "url", opts.URL)
	return &Validator{schema: schema, url: opts.URL, printer: newPrinter()}, nil
}

// resolveLocation turns plain paths into file URLs.
func resolveLocation(loc string) (string, error) {
	if u, err := url.Parse(loc); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return loc, nil
	}
	abs, err := filepath.Abs(loc)
	if err != nil {
		return "", fmt.Errorf("resolve schema path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("schema file: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// httpLoader fetches schemas over HTTP within the load context.
type httpLoader struct {
	ctx    context.Context
	client *http.Client
	logger *slog.Logger
}

func (l *httpLoader) Load(u string) (any, error) {
	req, err := http.NewRequestWithContext(l.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/schema+json, application/json")

	l.logger.Debug("Fetching schema", "url", u)
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", u, resp.Status)
	}

	doc, err := jsonschema.UnmarshalJSON(io.LimitReader(resp.Body, maxSchemaSize))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", u, err)
	}
	return doc, nil
}

// Process-wide validator, loaded at most once.
var (
	globalValidator *Validator
	globalErr       error
	globalOnce      sync.Once
	globalMu        sync.RWMutex
)

// LoadGlobal loads the process-wide validator. Only the first call fetches;
// concurrent and later callers receive the same validator or error.
func LoadGlobal(ctx context.Context, opts Options) (*Validator, error) {
	globalOnce.Do(func() {
		v, err := Load(ctx, opts)
		globalMu.Lock()
		globalValidator, globalErr = v, err
		globalMu.Unlock()
	})
	return Global()
}

// Global returns the process-wide validator, or ErrSchemaUnavailable when
// LoadGlobal has not succeeded.
func Global() (*Validator, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalErr != nil {
		return nil, globalErr
	}
	if globalValidator == nil {
		return nil, ErrSchemaUnavailable
	}
	return globalValidator, nil
}

// ResetGlobal clears the process-wide validator for testing purposes.
// This is NOT thread-safe and should only be used in tests.
func ResetGlobal() {
	globalOnce = sync.Once{}
	globalValidator = nil
	globalErr = nil
}
