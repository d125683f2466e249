package rss

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intel_fetcher/internal/domain"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Vendor Advisories</title>
    <item>
      <title>Critical patch released</title>
      <link>https://example.com/advisory/1</link>
      <guid>advisory-1</guid>
      <description>Fixes a remote code execution flaw</description>
      <pubDate>Wed, 01 May 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Old advisory</title>
      <link>https://example.com/advisory/0</link>
      <guid>advisory-0</guid>
      <pubDate>Mon, 01 May 2023 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Undated advisory</title>
      <link>https://example.com/advisory/2</link>
      <guid>advisory-2</guid>
    </item>
  </channel>
</rss>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testWindow() domain.Window {
	return domain.Window{
		From: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetchPage_FiltersByWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedTemplate))
	}))
	defer srv.Close()

	src := New(Config{
		Feeds:    []string{srv.URL},
		Timeout:  5 * time.Second,
		Lookback: 30 * 24 * time.Hour,
	}, testLogger())

	page, err := src.FetchPage(context.Background(), domain.PageRequest{Window: testWindow()})
	require.NoError(t, err)

	// the 2023 entry falls outside the window; the undated one is kept
	require.Equal(t, 2, page.ReturnedCount)
	assert.Equal(t, 2, page.TotalCount)

	var first feedItem
	require.NoError(t, json.Unmarshal(page.Items[0], &first))
	assert.Equal(t, "advisory-1", first.GUID)
	assert.Equal(t, "Vendor Advisories", first.Feed)
}

func TestFetchPage_NonZeroOffsetIsEmpty(t *testing.T) {
	src := New(Config{Feeds: []string{"http://unused"}}, testLogger())

	page, err := src.FetchPage(context.Background(), domain.PageRequest{
		Offset: 5,
		Window: testWindow(),
	})

	require.NoError(t, err)
	assert.Equal(t, 0, page.ReturnedCount)
	assert.Equal(t, 5, page.TotalCount)
}

func TestFetchPage_SkipsBrokenFeed(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedTemplate))
	}))
	defer okSrv.Close()

	brokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer brokenSrv.Close()

	src := New(Config{
		Feeds:   []string{brokenSrv.URL, okSrv.URL},
		Timeout: 5 * time.Second,
	}, testLogger())

	page, err := src.FetchPage(context.Background(), domain.PageRequest{Window: testWindow()})

	require.NoError(t, err)
	assert.Equal(t, 2, page.ReturnedCount)
}

func TestFetchPage_AllFeedsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := New(Config{
		Feeds:   []string{srv.URL, srv.URL + "/other"},
		Timeout: 5 * time.Second,
	}, testLogger())

	_, err := src.FetchPage(context.Background(), domain.PageRequest{Window: testWindow()})

	var trErr *domain.TransientError
	assert.True(t, errors.As(err, &trErr))
}

func TestNormalize(t *testing.T) {
	src := New(Config{}, testLogger())
	src.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	t.Run("full entry", func(t *testing.T) {
		published := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		raw, err := json.Marshal(feedItem{
			GUID:      "advisory-1",
			Link:      "https://example.com/advisory/1",
			Title:     "Critical patch released",
			Summary:   "Fixes a remote code execution flaw",
			Feed:      "Vendor Advisories",
			Published: &published,
		})
		require.NoError(t, err)

		rec, err := src.Normalize(raw)
		require.NoError(t, err)

		assert.Equal(t, "rss", rec.SourceID)
		assert.Equal(t, "advisory-1", rec.NaturalID)
		assert.Equal(t, "Fixes a remote code execution flaw", rec.Description)
		require.NotNil(t, rec.SourceIdentifier)
		assert.Equal(t, "Vendor Advisories", *rec.SourceIdentifier)
		require.NotNil(t, rec.PublishedAt)
		assert.Equal(t, published, rec.PublishedAt.UTC())
		assert.Equal(t, []string{"https://example.com/advisory/1"}, rec.ReferenceURLs)
	})

	t.Run("falls back to link as natural id", func(t *testing.T) {
		rec, err := src.Normalize(json.RawMessage(`{"link": "https://example.com/a", "title": "t"}`))
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", rec.NaturalID)
	})

	t.Run("falls back to title as description", func(t *testing.T) {
		rec, err := src.Normalize(json.RawMessage(`{"guid": "g", "title": "just a title"}`))
		require.NoError(t, err)
		assert.Equal(t, "just a title", rec.Description)
	})

	t.Run("missing guid and link", func(t *testing.T) {
		_, err := src.Normalize(json.RawMessage(`{"title": "orphan"}`))

		var invErr *domain.InvalidRecordError
		require.True(t, errors.As(err, &invErr))
		assert.Equal(t, "missing guid and link", invErr.Reason)
	})
}
