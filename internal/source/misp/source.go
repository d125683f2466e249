package misp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"intel_fetcher/internal/domain"
)

const (
	SourceID   = "misp"
	SourceName = "MISP Threat Sharing"
)

const maxErrorBody = 4 << 10

// threat_level_id is an enum: 1 high, 2 medium, 3 low, 4 undefined.
var threatLevels = map[string]struct {
	label string
	score float64
}{
	"1": {"HIGH", 8.0},
	"2": {"MEDIUM", 5.0},
	"3": {"LOW", 2.0},
}

// Config holds MISP source configuration.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
	Lookback time.Duration
}

// Source fetches events from a MISP instance via the restSearch endpoint.
// The API reports no total count, so exhaustion is detected by a short page.
type Source struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageSize   int
	lookback   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Source {
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		lookback: cfg.Lookback,
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

// FetchPage performs one restSearch round trip. restSearch pages are
// 1-based; offsets arrive as multiples of the page size.
func (s *Source) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	body, err := json.Marshal(searchRequest{
		Page:         req.Offset/req.PageSize + 1,
		Limit:        req.PageSize,
		Timestamp:    strconv.FormatInt(req.Window.From.Unix(), 10),
		ReturnFormat: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/events/restSearch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, &domain.DecodeError{Err: err}
	}

	s.logger.Debug("fetched page",
		"offset", req.Offset,
		"returned", len(searchResp.Response),
	)

	return &domain.PageResult{
		Items:         searchResp.Response,
		TotalCount:    domain.TotalUnknown,
		PageSize:      req.PageSize,
		ReturnedCount: len(searchResp.Response),
	}, nil
}

// Normalize maps one MISP event into the canonical record. The event UUID
// is the natural id; the threat level maps onto the severity fields.
func (s *Source) Normalize(item json.RawMessage) (*domain.IntelRecord, error) {
	var parsed Item
	if err := json.Unmarshal(item, &parsed); err != nil {
		return nil, &domain.InvalidRecordError{Reason: "malformed event: " + err.Error()}
	}

	ev := parsed.Event
	if ev.UUID == "" {
		return nil, &domain.InvalidRecordError{Reason: "missing event uuid"}
	}

	rec := &domain.IntelRecord{
		SourceID:    SourceID,
		NaturalID:   ev.UUID,
		Description: ev.Info,
		IngestedAt:  s.now().UTC(),
	}

	if ev.Orgc != nil && ev.Orgc.Name != "" {
		org := ev.Orgc.Name
		rec.SourceIdentifier = &org
	}

	if ev.Date != "" {
		if t, err := time.Parse("2006-01-02", ev.Date); err == nil {
			rec.PublishedAt = &t
		}
	}
	if ev.Timestamp != "" {
		if epoch, err := strconv.ParseInt(ev.Timestamp, 10, 64); err == nil {
			t := time.Unix(epoch, 0).UTC()
			rec.ModifiedAt = &t
		}
	}

	if level, ok := threatLevels[ev.ThreatLevelID]; ok {
		label, score := level.label, level.score
		rec.SeverityLabel = &label
		rec.SeverityScore = &score
	}

	for _, attr := range ev.Attributes {
		if (attr.Type == "link" || attr.Type == "url") && attr.Value != "" {
			rec.ReferenceURLs = append(rec.ReferenceURLs, attr.Value)
		}
	}

	return rec, nil
}
