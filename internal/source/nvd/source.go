package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"intel_fetcher/internal/domain"
)

const (
	SourceID   = "nvd"
	SourceName = "NVD Vulnerability Database"
)

// timeParam is the modification-time format the API accepts and emits.
const timeParam = "2006-01-02T15:04:05.000"

// maxErrorBody caps how much of an upstream error body is kept for
// diagnostics.
const maxErrorBody = 4 << 10

// Config holds NVD source configuration.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
	Lookback time.Duration
	Locale   string
}

// Source fetches and normalizes CVE records from the NVD CVE API 2.0.
type Source struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageSize   int
	lookback   time.Duration
	locale     string
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Source {
	locale := cfg.Locale
	if locale == "" {
		locale = "en"
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		lookback: cfg.Lookback,
		locale:   locale,
		logger:   logger.With("source", SourceID),
		now:      time.Now,
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

func (s *Source) PageSize() int {
	return s.pageSize
}

func (s *Source) Lookback() time.Duration {
	return s.lookback
}

// FetchPage performs one round trip against the CVE endpoint. Retry policy
// belongs to the caller; the API is rate-limited and uncontrolled internal
// retries would make that worse.
func (s *Source) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	q := url.Values{}
	q.Set("resultsPerPage", strconv.Itoa(req.PageSize))
	q.Set("startIndex", strconv.Itoa(req.Offset))
	q.Set("lastModStartDate", req.Window.From.UTC().Format(timeParam))
	q.Set("lastModEndDate", req.Window.To.UTC().Format(timeParam))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("apiKey", s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &domain.DecodeError{Err: err}
	}

	pageSize := apiResp.ResultsPerPage
	if pageSize == 0 {
		pageSize = req.PageSize
	}

	s.logger.Debug("fetched page",
		"offset", req.Offset,
		"returned", len(apiResp.Vulnerabilities),
		"total", apiResp.TotalResults,
	)

	return &domain.PageResult{
		Items:         apiResp.Vulnerabilities,
		TotalCount:    apiResp.TotalResults,
		PageSize:      pageSize,
		ReturnedCount: len(apiResp.Vulnerabilities),
	}, nil
}
