package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"intel_fetcher/internal/domain"
)

// subBatchSize bounds the multi-row insert. A performance knob only:
// per-record atomicity and the all-records-attempted guarantee hold across
// sub-batch boundaries.
const subBatchSize = 200

const recordColumns = 12

type RecordStore struct {
	db *sqlx.DB
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

// UpsertBatch attempts every record, keyed by natural_id. The happy path is
// one multi-row upsert per sub-batch; when a sub-batch fails, every record
// in it is retried individually so one bad record cannot take down its
// neighbors.
func (s *RecordStore) UpsertBatch(ctx context.Context, records []domain.IntelRecord) (*domain.BatchResult, error) {
	result := &domain.BatchResult{}

	for start := 0; start < len(records); start += subBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + subBatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		if err := s.upsertChunk(ctx, chunk); err == nil {
			result.SuccessCount += len(chunk)
			continue
		}

		for i := range chunk {
			if err := s.upsertOne(ctx, &chunk[i]); err != nil {
				result.FailureCount++
				result.Failures = append(result.Failures, domain.RecordFailure{
					NaturalID: chunk[i].NaturalID,
					Err:       err.Error(),
				})
				continue
			}
			result.SuccessCount++
		}
	}

	return result, nil
}

func (s *RecordStore) upsertChunk(ctx context.Context, records []domain.IntelRecord) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO intel_records (
		source_id, natural_id, description, source_identifier, published_at, modified_at,
		severity_score, severity_label, vector, weakness_class, reference_urls, ingested_at
	) VALUES `)

	args := make([]interface{}, 0, len(records)*recordColumns)
	for i := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := 0; col < recordColumns; col++ {
			if col > 0 {
				sb.WriteString(", $")
			} else {
				sb.WriteString("$")
			}
			sb.WriteString(strconv.Itoa(i*recordColumns + col + 1))
		}
		sb.WriteString(")")
		args = append(args, recordArgs(&records[i])...)
	}
	sb.WriteString(upsertClause)

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (s *RecordStore) upsertOne(ctx context.Context, rec *domain.IntelRecord) error {
	query := `INSERT INTO intel_records (
		source_id, natural_id, description, source_identifier, published_at, modified_at,
		severity_score, severity_label, vector, weakness_class, reference_urls, ingested_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)` + upsertClause

	_, err := s.db.ExecContext(ctx, query, recordArgs(rec)...)
	return err
}

// upsertClause updates every mutable field; natural_id stays untouched so
// the sink never holds two live rows for the same upstream identifier.
const upsertClause = `
	ON CONFLICT (natural_id) DO UPDATE SET
		source_id = EXCLUDED.source_id,
		description = EXCLUDED.description,
		source_identifier = EXCLUDED.source_identifier,
		published_at = EXCLUDED.published_at,
		modified_at = EXCLUDED.modified_at,
		severity_score = EXCLUDED.severity_score,
		severity_label = EXCLUDED.severity_label,
		vector = EXCLUDED.vector,
		weakness_class = EXCLUDED.weakness_class,
		reference_urls = EXCLUDED.reference_urls,
		ingested_at = EXCLUDED.ingested_at`

func recordArgs(rec *domain.IntelRecord) []interface{} {
	return []interface{}{
		rec.SourceID,
		rec.NaturalID,
		rec.Description,
		rec.SourceIdentifier,
		rec.PublishedAt,
		rec.ModifiedAt,
		rec.SeverityScore,
		rec.SeverityLabel,
		rec.Vector,
		rec.WeaknessClass,
		pq.Array(rec.ReferenceURLs),
		rec.IngestedAt,
	}
}
