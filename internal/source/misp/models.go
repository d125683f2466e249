package misp

import "encoding/json"

type searchRequest struct {
	Page         int    `json:"page"`
	Limit        int    `json:"limit"`
	Timestamp    string `json:"timestamp,omitempty"`
	ReturnFormat string `json:"returnFormat"`
}

type searchResponse struct {
	Response []json.RawMessage `json:"response"`
}

// Item is one entry of the restSearch response array.
type Item struct {
	Event Event `json:"Event"`
}

type Event struct {
	UUID          string      `json:"uuid"`
	Info          string      `json:"info"`
	ThreatLevelID string      `json:"threat_level_id"`
	Date          string      `json:"date"`
	Timestamp     string      `json:"timestamp"`
	Orgc          *Org        `json:"Orgc"`
	Attributes    []Attribute `json:"Attribute"`
}

type Org struct {
	Name string `json:"name"`
}

type Attribute struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}
