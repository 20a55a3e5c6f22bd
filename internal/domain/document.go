package domain

import "time"

// Chunk is one embedded slice of a processed document.
type Chunk struct {
	ID             string    `json:"chunk_id"`
	DocumentID     string    `json:"document_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"embedding"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"created_at"`
}

// Activity is the raw aggregate the analytics handler derives metrics from.
type Activity struct {
	OrganizationID       string    `json:"organization_id"`
	From                 time.Time `json:"from"`
	To                   time.Time `json:"to"`
	Events               int       `json:"events"`
	Deliveries           int       `json:"deliveries"`
	SuccessfulDeliveries int       `json:"successful_deliveries"`
	TotalDurationMS      int64     `json:"total_duration_ms"`
	Notifications        int       `json:"notifications"`
}

type AnalyticsResult struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id"`
	From           time.Time          `json:"from"`
	To             time.Time          `json:"to"`
	Metrics        map[string]float64 `json:"metrics"`
	CreatedAt      time.Time          `json:"created_at"`
}
