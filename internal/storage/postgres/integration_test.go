//go:build integration

package postgres

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"intel_fetcher/internal/domain"
	"intel_fetcher/testdata/utils"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_intel_records.up.sql"),
			filepath.Join(migrationsPath, "002_create_checkpoints.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM intel_records")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM checkpoints")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func testRecord(naturalID string) domain.IntelRecord {
	now := time.Now().Truncate(time.Microsecond)
	return domain.IntelRecord{
		SourceID:         "test-source",
		NaturalID:        naturalID,
		Description:      "buffer overflow in parser",
		SourceIdentifier: utils.Ptr("cna@vendor.com"),
		PublishedAt:      utils.Ptr(now.Add(-24 * time.Hour)),
		ModifiedAt:       utils.Ptr(now),
		SeverityScore:    utils.Ptr(9.8),
		SeverityLabel:    utils.Ptr("CRITICAL"),
		Vector:           utils.Ptr("CVSS:3.1/AV:N"),
		WeaknessClass:    utils.Ptr("CWE-787"),
		ReferenceURLs:    []string{"https://example.com/advisory"},
		IngestedAt:       now,
	}
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_Insert() {
	store := NewRecordStore(s.db)

	records := []domain.IntelRecord{
		testRecord("CVE-2024-0001"),
		testRecord("CVE-2024-0002"),
	}

	result, err := store.UpsertBatch(s.ctx, records)
	s.NoError(err)
	s.Equal(2, result.SuccessCount)
	s.Equal(0, result.FailureCount)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM intel_records")
	s.NoError(err)
	s.Equal(2, count)
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_Idempotent() {
	store := NewRecordStore(s.db)

	records := []domain.IntelRecord{testRecord("CVE-2024-0001")}

	_, err := store.UpsertBatch(s.ctx, records)
	s.NoError(err)

	records[0].Description = "updated description"
	records[0].SeverityScore = utils.Ptr(7.5)
	result, err := store.UpsertBatch(s.ctx, records)
	s.NoError(err)
	s.Equal(1, result.SuccessCount)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM intel_records WHERE natural_id = $1", "CVE-2024-0001")
	s.NoError(err)
	s.Equal(1, count)

	var description string
	err = s.db.GetContext(s.ctx, &description, "SELECT description FROM intel_records WHERE natural_id = $1", "CVE-2024-0001")
	s.NoError(err)
	s.Equal("updated description", description)

	var score float64
	err = s.db.GetContext(s.ctx, &score, "SELECT severity_score FROM intel_records WHERE natural_id = $1", "CVE-2024-0001")
	s.NoError(err)
	s.Equal(7.5, score)
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_NullableFields() {
	store := NewRecordStore(s.db)

	rec := domain.IntelRecord{
		SourceID:    "test-source",
		NaturalID:   "CVE-2024-0003",
		Description: "no metrics published yet",
		IngestedAt:  time.Now().Truncate(time.Microsecond),
	}

	result, err := store.UpsertBatch(s.ctx, []domain.IntelRecord{rec})
	s.NoError(err)
	s.Equal(1, result.SuccessCount)

	var got domain.IntelRecord
	err = s.db.GetContext(s.ctx, &got, `
		SELECT source_id, natural_id, description, source_identifier, severity_score, severity_label
		FROM intel_records WHERE natural_id = $1`, "CVE-2024-0003")
	s.NoError(err)
	s.Nil(got.SourceIdentifier)
	s.Nil(got.SeverityScore)
	s.Nil(got.SeverityLabel)
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_IsolatesBadRecord() {
	store := NewRecordStore(s.db)

	// a check constraint makes the middle record fail while its neighbors
	// still go through via the per-record fallback
	_, err := s.db.ExecContext(s.ctx,
		"ALTER TABLE intel_records ADD CONSTRAINT natural_id_nonempty CHECK (natural_id <> '')")
	s.Require().NoError(err)
	defer func() {
		_, _ = s.db.ExecContext(s.ctx, "ALTER TABLE intel_records DROP CONSTRAINT natural_id_nonempty")
	}()

	records := []domain.IntelRecord{
		testRecord("CVE-2024-0001"),
		testRecord(""),
		testRecord("CVE-2024-0003"),
	}

	result, err := store.UpsertBatch(s.ctx, records)
	s.NoError(err)
	s.Equal(2, result.SuccessCount)
	s.Equal(1, result.FailureCount)
	s.Require().Len(result.Failures, 1)
	s.Equal("", result.Failures[0].NaturalID)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM intel_records")
	s.NoError(err)
	s.Equal(2, count)
}

func (s *PostgresIntegrationSuite) TestRecordStore_UpsertBatch_LargeBatch() {
	store := NewRecordStore(s.db)

	records := make([]domain.IntelRecord, 0, subBatchSize+50)
	for i := 0; i < subBatchSize+50; i++ {
		records = append(records, testRecord(fmt.Sprintf("CVE-2024-%04d", i)))
	}

	result, err := store.UpsertBatch(s.ctx, records)
	s.NoError(err)
	s.Equal(len(records), result.SuccessCount)
}

func (s *PostgresIntegrationSuite) TestCheckpointStore_GetMissing() {
	store := NewCheckpointStore(s.db)

	cp, err := store.Get(s.ctx, "never-seen")
	s.NoError(err)
	s.Nil(cp)
}

func (s *PostgresIntegrationSuite) TestCheckpointStore_PutAndGet() {
	store := NewCheckpointStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	cp := &domain.Checkpoint{
		SourceID:      "test-source",
		LastFetchTime: utils.Ptr(now.Add(-time.Hour)),
		WindowEnd:     utils.Ptr(now),
		NextOffset:    400,
		ItemsFetched:  400,
	}
	err := store.Put(s.ctx, cp)
	s.NoError(err)

	got, err := store.Get(s.ctx, "test-source")
	s.NoError(err)
	s.Require().NotNil(got)
	s.Equal("test-source", got.SourceID)
	s.Equal(400, got.NextOffset)
	s.Equal(int64(400), got.ItemsFetched)
	s.Require().NotNil(got.WindowEnd)
	s.WithinDuration(now, *got.WindowEnd, time.Second)
	s.Nil(got.LastSuccessTime)
}

func (s *PostgresIntegrationSuite) TestCheckpointStore_PutUpdatesExisting() {
	store := NewCheckpointStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	cp := &domain.Checkpoint{
		SourceID:      "test-source",
		LastFetchTime: utils.Ptr(now.Add(-time.Hour)),
		WindowEnd:     utils.Ptr(now),
		NextOffset:    200,
		ItemsFetched:  200,
	}
	s.NoError(store.Put(s.ctx, cp))

	// a completed cycle clears the window and records the success time
	cp.LastFetchTime = utils.Ptr(now)
	cp.WindowEnd = nil
	cp.NextOffset = 0
	cp.ItemsFetched = 350
	cp.LastSuccessTime = utils.Ptr(now)
	s.NoError(store.Put(s.ctx, cp))

	got, err := store.Get(s.ctx, "test-source")
	s.NoError(err)
	s.Require().NotNil(got)
	s.Equal(0, got.NextOffset)
	s.Nil(got.WindowEnd)
	s.Equal(int64(350), got.ItemsFetched)
	s.Require().NotNil(got.LastSuccessTime)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM checkpoints WHERE source_id = $1", "test-source")
	s.NoError(err)
	s.Equal(1, count)
}
