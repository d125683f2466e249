package nvd

import (
	"encoding/json"
	"time"

	"intel_fetcher/internal/domain"
)

// Normalize maps one raw vulnerabilities entry into the canonical record.
// It is total over plausible upstream shapes: anything it cannot map comes
// back as *domain.InvalidRecordError, never a panic.
func (s *Source) Normalize(item json.RawMessage) (*domain.IntelRecord, error) {
	var parsed Item
	if err := json.Unmarshal(item, &parsed); err != nil {
		return nil, &domain.InvalidRecordError{Reason: "malformed item: " + err.Error()}
	}

	cve := parsed.CVE
	if cve.ID == "" {
		return nil, &domain.InvalidRecordError{Reason: "missing cve id"}
	}

	rec := &domain.IntelRecord{
		SourceID:    SourceID,
		NaturalID:   cve.ID,
		Description: s.pickDescription(cve.Descriptions),
		PublishedAt: parseTime(cve.Published),
		ModifiedAt:  parseTime(cve.LastModified),
		IngestedAt:  s.now().UTC(),
	}

	if cve.SourceIdentifier != "" {
		rec.SourceIdentifier = &cve.SourceIdentifier
	}

	applyMetrics(rec, cve.Metrics)

	if class := pickWeakness(cve.Weaknesses); class != "" {
		rec.WeaknessClass = &class
	}

	for _, ref := range cve.References {
		if ref.URL != "" {
			rec.ReferenceURLs = append(rec.ReferenceURLs, ref.URL)
		}
	}

	return rec, nil
}

func (s *Source) pickDescription(descs []LangString) string {
	for _, d := range descs {
		if d.Lang == s.locale {
			return d.Value
		}
	}
	return ""
}

// applyMetrics selects the highest-fidelity CVSS version present, newest
// schema first. Absent metrics leave the severity fields nil.
func applyMetrics(rec *domain.IntelRecord, m Metrics) {
	if len(m.CVSSMetricV31) > 0 {
		setSeverityV3(rec, m.CVSSMetricV31[0].CVSSData)
		return
	}
	if len(m.CVSSMetricV30) > 0 {
		setSeverityV3(rec, m.CVSSMetricV30[0].CVSSData)
		return
	}
	if len(m.CVSSMetricV2) > 0 {
		v2 := m.CVSSMetricV2[0]
		score := v2.CVSSData.BaseScore
		rec.SeverityScore = &score
		if v2.BaseSeverity != "" {
			label := v2.BaseSeverity
			rec.SeverityLabel = &label
		}
		if v2.CVSSData.VectorString != "" {
			vector := v2.CVSSData.VectorString
			rec.Vector = &vector
		}
	}
}

func setSeverityV3(rec *domain.IntelRecord, data CVSSDataV3) {
	score := data.BaseScore
	rec.SeverityScore = &score
	if data.BaseSeverity != "" {
		label := data.BaseSeverity
		rec.SeverityLabel = &label
	}
	if data.VectorString != "" {
		vector := data.VectorString
		rec.Vector = &vector
	}
}

func pickWeakness(weaknesses []Weakness) string {
	for _, w := range weaknesses {
		for _, d := range w.Description {
			if d.Value != "" {
				return d.Value
			}
		}
	}
	return ""
}

// parseTime accepts the API's millisecond format as well as RFC 3339.
func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{timeParam, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
