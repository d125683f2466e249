package rss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"intel_fetcher/internal/domain"
)

const (
	SourceID   = "rss"
	SourceName = "RSS Advisory Feeds"
)

// Config holds syndication source configuration.
type Config struct {
	Feeds    []string
	Timeout  time.Duration
	Lookback time.Duration
}

// Source aggregates a fixed set of RSS/Atom feeds. Syndication feeds are
// not paginated: the whole window arrives as a single logical page and any
// offset past it is an empty page.
type Source struct {
	parser   *gofeed.Parser
	feeds    []string
	lookback time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// feedItem is the intermediate shape fetched entries are carried in between
// FetchPage and Normalize.
type feedItem struct {
	GUID      string     `json:"guid"`
	Link      string     `json:"link"`
	Title     string     `json:"title"`
	Summary   string     `json:"summary"`
	Feed      string     `json:"feed"`
	Published *time.Time `json:"published,omitempty"`
	Updated   *time.Time `json:"updated,omitempty"`
}

func New(cfg Config, logger *slog.Logger) *Source {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.Timeout}

	return &Source{
		parser:   parser,
		feeds:    cfg.Feeds,
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
	return 0
}

func (s *Source) Lookback() time.Duration {
	return s.lookback
}

// FetchPage parses every configured feed and returns the entries published
// within the window. A single unreachable feed is skipped; the fetch only
// fails when no feed could be read at all.
func (s *Source) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	if req.Offset > 0 {
		return &domain.PageResult{TotalCount: req.Offset}, nil
	}

	var items []json.RawMessage
	var errs []error

	for _, feedURL := range s.feeds {
		feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			s.logger.Warn("failed to parse feed", "feed", feedURL, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", feedURL, err))
			continue
		}

		for _, entry := range feed.Items {
			item := feedItem{
				GUID:      entry.GUID,
				Link:      entry.Link,
				Title:     entry.Title,
				Summary:   entry.Description,
				Feed:      feed.Title,
				Published: entry.PublishedParsed,
				Updated:   entry.UpdatedParsed,
			}
			if !inWindow(item, req.Window) {
				continue
			}

			raw, err := json.Marshal(item)
			if err != nil {
				continue
			}
			items = append(items, raw)
		}
	}

	if len(items) == 0 && len(errs) > 0 && len(errs) == len(s.feeds) {
		return nil, &domain.TransientError{Err: errors.Join(errs...)}
	}

	s.logger.Debug("fetched feeds", "feeds", len(s.feeds), "entries", len(items))

	return &domain.PageResult{
		Items:         items,
		TotalCount:    len(items),
		PageSize:      len(items),
		ReturnedCount: len(items),
	}, nil
}

// Normalize maps one feed entry into the canonical record. GUID is the
// natural id, falling back to the entry link.
func (s *Source) Normalize(item json.RawMessage) (*domain.IntelRecord, error) {
	var parsed feedItem
	if err := json.Unmarshal(item, &parsed); err != nil {
		return nil, &domain.InvalidRecordError{Reason: "malformed entry: " + err.Error()}
	}

	naturalID := parsed.GUID
	if naturalID == "" {
		naturalID = parsed.Link
	}
	if naturalID == "" {
		return nil, &domain.InvalidRecordError{Reason: "missing guid and link"}
	}

	description := parsed.Summary
	if description == "" {
		description = parsed.Title
	}

	rec := &domain.IntelRecord{
		SourceID:    SourceID,
		NaturalID:   naturalID,
		Description: description,
		PublishedAt: parsed.Published,
		ModifiedAt:  parsed.Updated,
		IngestedAt:  s.now().UTC(),
	}

	if parsed.Feed != "" {
		feed := parsed.Feed
		rec.SourceIdentifier = &feed
	}
	if parsed.Link != "" {
		rec.ReferenceURLs = []string{parsed.Link}
	}

	return rec, nil
}

// inWindow keeps entries modified or published within [From, To); entries
// with no parseable date get the benefit of the doubt.
func inWindow(item feedItem, w domain.Window) bool {
	ts := item.Updated
	if ts == nil {
		ts = item.Published
	}
	if ts == nil {
		return true
	}
	return !ts.Before(w.From) && ts.Before(w.To)
}
