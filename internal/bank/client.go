// Package bank fetches and parses authoritative transaction receipts from bank websites.
package bank

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/avast/retry-go"

	"github.com/Veraticus/receipt-sentinel/internal/classification"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Lookup errors.
var (
	// ErrReceiptNotFound means the bank has no receipt for the id.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrIncompleteReceipt means the page named a recipient but lacked a usable amount or date.
	ErrIncompleteReceipt = errors.New("incomplete receipt")
)

// DefaultTimeout bounds one lookup including retries.
const DefaultTimeout = 20 * time.Second

// maxBody caps how much of a receipt page is read.
const maxBody = 5 << 20

// ClientConfig configures a Client.
type ClientConfig struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Timezone   string
	Timeout    time.Duration
	RetryDelay time.Duration
	Attempts   int
}

// Client looks receipts up by transaction id.
type Client struct {
	http       *http.Client
	logger     *slog.Logger
	loc        *time.Location
	timeout    time.Duration
	retryDelay time.Duration
	attempts   uint
}

// NewClient builds a Client. The timezone is used for receipt dates printed
// without an offset; it defaults to Africa/Addis_Ababa.
func NewClient(cfg ClientConfig) (*Client, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "Africa/Addis_Ababa"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: bank timezone %q: %w", common.ErrInvalidConfig, tz, err)
	}

	c := &Client{
		http:       cfg.HTTPClient,
		logger:     common.LoggerOrDefault(cfg.Logger),
		loc:        loc,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		attempts:   uint(max(cfg.Attempts, 1)),
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.retryDelay <= 0 {
		c.retryDelay = time.Second
	}
	return c, nil
}

// Fetch returns the receipt for id from spec's lookup page. It returns
// ErrReceiptNotFound when the bank answers 404 or the page carries no
// recipient, and ErrIncompleteReceipt when the amount or date is missing.
// Any other error is a transport failure.
func (c *Client) Fetch(ctx context.Context, spec model.BankSpec, id string) (*model.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := spec.LookupURL(id)
	var (
		body        []byte
		contentType string
	)

	err := retry.Do(
		func() error {
			var fetchErr error
			body, contentType, fetchErr = c.get(ctx, url)
			return fetchErr
		},
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, ErrReceiptNotFound) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Bank lookup failed, retrying",
				"bank", spec.Name, "transaction_id", id, "attempt", n+1, "error", err)
		}),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("bank %s lookup: %w", spec.Name, err)
	}

	lines, err := extractLines(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("bank %s receipt: %w", spec.Name, err)
	}

	receipt := ParseReceipt(lines, c.loc)
	if receipt.Recipient == "" {
		return nil, ErrReceiptNotFound
	}
	if missing := missingFields(receipt); len(missing) > 0 {
		return nil, fmt.Errorf("bank %s receipt %s: %w: no %s",
			spec.Name, id, ErrIncompleteReceipt, strings.Join(missing, " or "))
	}
	return &receipt, nil
}

func missingFields(r model.Receipt) []string {
	var missing []string
	if !strings.ContainsAny(r.AmountText, "0123456789") {
		missing = append(missing, "amount")
	}
	if _, err := time.Parse(classification.BankDateLayout, r.Date); err != nil {
		missing = append(missing, "date")
	}
	return missing
}

func (c *Client) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "text/html,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", ErrReceiptNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("bank returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, "", retry.Unrecoverable(fmt.Errorf("bank returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func extractLines(body []byte, contentType string) ([]string, error) {
	if strings.Contains(contentType, "application/pdf") || bytes.HasPrefix(body, []byte("%PDF")) {
		return pdfLines(body)
	}
	return htmlLines(body)
}
