// Package worklist provides a file-backed worklist for batch verification.
// Rows come from a JSON manifest split into pages; every confirm or reject is
// appended to a JSONL results file and removes the row from the worklist.
package worklist

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

// ErrRowNotFound is returned when acting on a row that is not on the current page.
var ErrRowNotFound = errors.New("row not found on current page")

// Decision actions written to the results file.
const (
	ActionConfirm = "confirm"
	ActionReject  = "reject"
)

const maxImageBytes = 20 << 20

// Decision is one line of the results file.
type Decision struct {
	DecidedAt      time.Time `json:"decided_at"`
	RowKey         string    `json:"row_key"`
	Action         string    `json:"action"`
	Status         string    `json:"status"`
	TransactionIDs []string  `json:"transaction_ids,omitempty"`
	ExpectedAmount float64   `json:"expected_amount"`
}

type manifest struct {
	Pages []manifestPage `json:"pages"`
}

type manifestPage struct {
	Rows []model.Row `json:"rows"`
}

// File is a worklist read from a manifest on disk.
type File struct {
	client       *http.Client
	logger       *slog.Logger
	clock        clockwork.Clock
	decided      map[string]string
	manifestPath string
	resultsPath  string
	baseDir      string
	pages        [][]model.Row
	retry        service.RetryOptions
	page         int
	mu           sync.Mutex
}

// Option configures a File.
type Option func(*File)

// WithHTTPClient sets the client used for image URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(f *File) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *File) { f.logger = l }
}

// WithClock sets the clock used to timestamp decisions.
func WithClock(c clockwork.Clock) Option {
	return func(f *File) { f.clock = c }
}

// WithRetry sets retry behavior for image downloads.
func WithRetry(opts service.RetryOptions) Option {
	return func(f *File) { f.retry = opts }
}

// Open loads the manifest at manifestPath. Decisions are appended to
// resultsPath; rows already decided there are left out of the worklist.
func Open(manifestPath, resultsPath string, opts ...Option) (*File, error) {
	if manifestPath == "" {
		return nil, fmt.Errorf("manifest path: %w", common.ErrMissingConfig)
	}
	if resultsPath == "" {
		resultsPath = strings.TrimSuffix(manifestPath, filepath.Ext(manifestPath)) + ".results.jsonl"
	}

	f := &File{
		manifestPath: manifestPath,
		resultsPath:  resultsPath,
		baseDir:      filepath.Dir(manifestPath),
		client:       &http.Client{Timeout: 30 * time.Second},
		clock:        clockwork.NewRealClock(),
		decided:      make(map[string]string),
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = common.LoggerOrDefault(f.logger)

	if err := f.loadDecisions(); err != nil {
		return nil, err
	}
	if err := f.loadManifest(); err != nil {
		return nil, err
	}

	f.logger.Info("Opened worklist",
		"manifest", manifestPath,
		"results", resultsPath,
		"pages", len(f.pages),
		"decided", len(f.decided))
	return f, nil
}

func (f *File) loadManifest() error {
	data, err := os.ReadFile(f.manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	pages := make([][]model.Row, 0, len(m.Pages))
	for i, p := range m.Pages {
		rows := make([]model.Row, 0, len(p.Rows))
		for _, r := range p.Rows {
			if r.Key == "" {
				return fmt.Errorf("page %d: row without key: %w", i+1, common.ErrInvalidConfig)
			}
			if _, done := f.decided[r.Key]; done {
				continue
			}
			if r.Source == "" {
				r.Source = model.SourceImage
			}
			rows = append(rows, r)
		}
		pages = append(pages, rows)
	}
	f.pages = pages
	f.page = min(f.page, max(len(pages)-1, 0))
	return nil
}

func (f *File) loadDecisions() error {
	file, err := os.Open(f.resultsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open results: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			f.logger.Warn("Failed to close results file", "error", cerr)
		}
	}()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var d Decision
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return fmt.Errorf("results line %d: %w", line, err)
		}
		f.decided[d.RowKey] = d.Action
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}
	return nil
}

// Rows returns the rows on the current page.
func (f *File) Rows(ctx context.Context) ([]model.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages) == 0 {
		return nil, nil
	}
	return slices.Clone(f.pages[f.page]), nil
}

// Images loads the row's screenshots in order.
func (f *File) Images(ctx context.Context, row model.Row) ([]model.Image, error) {
	images := make([]model.Image, 0, len(row.ImageURLs))
	for _, ref := range row.ImageURLs {
		img, err := f.loadImage(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", row.Key, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (f *File) loadImage(ctx context.Context, ref string) (model.Image, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return f.download(ctx, ref)
	}

	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.baseDir, path)
	}
	img, err := ReadImage(path)
	if err != nil {
		return model.Image{}, err
	}
	img.Source = ref
	return img, nil
}

// ReadImage loads a screenshot from disk, sniffing its MIME type.
func ReadImage(path string) (model.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return model.Image{Source: path, MIMEType: detectMIME(path, data), Data: data}, nil
}

func (f *File) download(ctx context.Context, url string) (model.Image, error) {
	var img model.Image
	err := common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				f.logger.Debug("Failed to close image body", "error", cerr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("image %s: HTTP %d", url, resp.StatusCode)
			return &common.RetryableError{Err: statusErr, Retryable: resp.StatusCode >= 500}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return err
		}

		mimeType := resp.Header.Get("Content-Type")
		if parsed, _, perr := mime.ParseMediaType(mimeType); perr == nil && strings.HasPrefix(parsed, "image/") {
			mimeType = parsed
		} else {
			mimeType = detectMIME(url, data)
		}
		img = model.Image{Source: url, MIMEType: mimeType, Data: data}
		return nil
	}, f.retry)
	if err != nil {
		return model.Image{}, fmt.Errorf("failed to download image: %w", err)
	}
	return img, nil
}

func detectMIME(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(name, "?", 2)[0]))
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "image/") {
		if parsed, _, err := mime.ParseMediaType(t); err == nil {
			return parsed
		}
	}
	t := http.DetectContentType(data)
	if parsed, _, err := mime.ParseMediaType(t); err == nil {
		return parsed
	}
	return t
}

// Confirm records the row as confirmed and removes it.
func (f *File) Confirm(ctx context.Context, row model.Row, outcome model.Outcome) error {
	return f.decide(ctx, row, outcome, ActionConfirm)
}

// Reject records the row as rejected and removes it.
func (f *File) Reject(ctx context.Context, row model.Row, outcome model.Outcome) error {
	return f.decide(ctx, row, outcome, ActionReject)
}

func (f *File) decide(ctx context.Context, row model.Row, outcome model.Outcome, action string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pages) == 0 {
		return ErrRowNotFound
	}
	rows := f.pages[f.page]
	idx := slices.IndexFunc(rows, func(r model.Row) bool { return r.Key == row.Key })
	if idx < 0 {
		return fmt.Errorf("%s: %w", row.Key, ErrRowNotFound)
	}

	ids := outcome.TransactionIDs
	if len(ids) == 0 && outcome.TransactionID != "" {
		ids = []string{outcome.TransactionID}
	}
	d := Decision{
		DecidedAt:      f.clock.Now().UTC(),
		RowKey:         row.Key,
		Action:         action,
		Status:         outcome.Label(),
		TransactionIDs: ids,
		ExpectedAmount: row.ExpectedAmount,
	}
	if err := f.appendDecision(d); err != nil {
		return err
	}

	f.decided[row.Key] = action
	f.pages[f.page] = slices.Delete(rows, idx, idx+1)
	f.logger.Debug("Recorded decision", "row", row.Key, "action", action, "status", d.Status)
	return nil
}

func (f *File) appendDecision(d Decision) error {
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	file, err := os.OpenFile(f.resultsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open results: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write decision: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close results: %w", err)
	}
	return nil
}

// Contains reports whether the row is still on the current page.
func (f *File) Contains(ctx context.Context, rowKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages) == 0 {
		return false, nil
	}
	return slices.ContainsFunc(f.pages[f.page], func(r model.Row) bool { return r.Key == rowKey }), nil
}

// Refresh re-reads the manifest, keeping the current page position.
func (f *File) Refresh(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadManifest(); err != nil {
		return false, err
	}
	f.logger.Debug("Reloaded worklist", "page", f.page+1, "pages", len(f.pages))
	return true, nil
}

// NextPage moves to the following page. It reports false on the last page.
func (f *File) NextPage(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.page+1 >= len(f.pages) {
		return false, nil
	}
	f.page++
	f.logger.Info("Advanced worklist page", "page", f.page+1, "pages", len(f.pages))
	return true, nil
}

// Decisions returns the decisions recorded so far, keyed by row.
func (f *File) Decisions() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.decided)
}
