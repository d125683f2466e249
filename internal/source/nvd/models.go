package nvd

import "encoding/json"

// apiResponse is the NVD CVE API 2.0 page envelope.
type apiResponse struct {
	ResultsPerPage  int               `json:"resultsPerPage"`
	StartIndex      int               `json:"startIndex"`
	TotalResults    int               `json:"totalResults"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

// Item is one entry of the vulnerabilities array.
type Item struct {
	CVE CVE `json:"cve"`
}

type CVE struct {
	ID               string       `json:"id"`
	SourceIdentifier string       `json:"sourceIdentifier"`
	Published        string       `json:"published"`
	LastModified     string       `json:"lastModified"`
	Descriptions     []LangString `json:"descriptions"`
	Metrics          Metrics      `json:"metrics"`
	Weaknesses       []Weakness   `json:"weaknesses"`
	References       []Reference  `json:"references"`
}

type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// Metrics carries the versioned CVSS substructures. Which of them are
// present varies per CVE; selection order is v3.1, then v3.0, then v2.
type Metrics struct {
	CVSSMetricV31 []CVSSMetricV3 `json:"cvssMetricV31"`
	CVSSMetricV30 []CVSSMetricV3 `json:"cvssMetricV30"`
	CVSSMetricV2  []CVSSMetricV2 `json:"cvssMetricV2"`
}

type CVSSMetricV3 struct {
	CVSSData CVSSDataV3 `json:"cvssData"`
}

type CVSSDataV3 struct {
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
	VectorString string  `json:"vectorString"`
}

type CVSSMetricV2 struct {
	CVSSData     CVSSDataV2 `json:"cvssData"`
	BaseSeverity string     `json:"baseSeverity"`
}

type CVSSDataV2 struct {
	BaseScore    float64 `json:"baseScore"`
	VectorString string  `json:"vectorString"`
}

type Weakness struct {
	Description []LangString `json:"description"`
}

type Reference struct {
	URL string `json:"url"`
}
