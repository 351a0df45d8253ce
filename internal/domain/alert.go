package domain

import "time"

// Alert is a HIGH-risk notification raised for one location. It is what
// subscribers are emailed about and what is published as an event.
type Alert struct {
	ID          string         `json:"id"`
	Location    string         `json:"location"`
	DisplayName string         `json:"display_name"`
	Assessment  RiskAssessment `json:"risk_assessment"`
	RaisedAt    time.Time      `json:"raised_at"`
}
