package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"netpilot-hq/netpilot/pkg/config"
)

// Reloader tells the proxy to pick up published documents.
type Reloader interface {
	// Name identifies the implementation in logs, metrics and errors.
	Name() string
	Reload(ctx context.Context) error
}

// NewReloader returns the reloader selected by cfg.Reloader.
func NewReloader(cfg *config.ProxyConfig, client *http.Client) (Reloader, error) {
	switch cfg.Reloader {
	case "", "watch":
		return NewWatchReloader(cfg.DynamicDir), nil
	case "http":
		return NewHTTPReloader(cfg.ReloadURL, cfg.ReloadMethod, cfg.ReloadTimeout, client), nil
	default:
		return nil, fmt.Errorf("unsupported reloader %q", cfg.Reloader)
	}
}

// WatchReloader is used when the proxy watches the dynamic directory
// itself. Reload only confirms that every document in the directory parses,
// so a broken file is reported instead of silently ignored by the proxy.
type WatchReloader struct {
	dir string
}

// NewWatchReloader creates a reloader for a watched directory.
func NewWatchReloader(dir string) *WatchReloader {
	return &WatchReloader{dir: dir}
}

// Name implements Reloader.
func (r *WatchReloader) Name() string {
	return "watch"
}

// Reload implements Reloader.
func (r *WatchReloader) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	report, err := Verify(r.dir)
	if err != nil {
		return err
	}
	if len(report.Invalid) > 0 {
		return fmt.Errorf("%d invalid document(s) in %s: %s", len(report.Invalid), r.dir, report.Invalid[0])
	}
	return nil
}

// HTTPReloader calls a reload endpoint of the proxy or of a sidecar.
type HTTPReloader struct {
	url     string
	method  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPReloader creates an HTTP reloader. A nil client uses
// http.DefaultClient.
func NewHTTPReloader(url, method string, timeout time.Duration, client *http.Client) *HTTPReloader {
	if client == nil {
		client = http.DefaultClient
	}
	if method == "" {
		method = http.MethodPost
	}
	return &HTTPReloader{url: url, method: strings.ToUpper(method), timeout: timeout, client: client}
}

// Name implements Reloader.
func (r *HTTPReloader) Name() string {
	return "http"
}

// Reload implements Reloader. Any non-2xx response is a failure.
func (r *HTTPReloader) Reload(ctx context.Context) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build reload request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reload endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// InvalidDocument is a document that failed to parse.
type InvalidDocument struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

func (d InvalidDocument) String() string {
	return d.Name + " (" + d.Error + ")"
}

// VerifyReport summarizes a directory check.
type VerifyReport struct {
	Dir     string            `json:"dir"`
	Valid   int               `json:"valid"`
	Invalid []InvalidDocument `json:"invalid,omitempty"`
	Total   int               `json:"total"`
}

// OK reports whether every document parsed.
func (r *VerifyReport) OK() bool {
	return len(r.Invalid) == 0
}

// Verify parses every YAML document in dir. An empty document counts as
// invalid. A missing directory is an error.
func Verify(dir string) (*VerifyReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("dynamic directory not found: %s", dir)
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	report := &VerifyReport{Dir: dir}
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || strings.HasPrefix(name, ".") || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		report.Total++

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			report.Invalid = append(report.Invalid, InvalidDocument{Name: name, Error: err.Error()})
			continue
		}
		var content map[string]any
		if err := yaml.Unmarshal(data, &content); err != nil {
			report.Invalid = append(report.Invalid, InvalidDocument{Name: name, Error: err.Error()})
			continue
		}
		if content == nil {
			report.Invalid = append(report.Invalid, InvalidDocument{Name: name, Error: "empty document"})
			continue
		}
		report.Valid++
	}
	sort.Slice(report.Invalid, func(i, j int) bool { return report.Invalid[i].Name < report.Invalid[j].Name })
	return report, nil
}
