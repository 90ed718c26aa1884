package model

import "time"

// Violation reasons.
const (
	ReasonKilometerMarker   = "Проезд через ПВП 636 км"
	ReasonForbiddenLocation = "Запрещённый пункт ПВП"
)

// Violation flags a trip that passed a forbidden toll point.
// TripID is a weak back-reference used for lookups and joins.
type Violation struct {
	OccurredAt   time.Time `json:"occurred_at"`
	DetectedAt   time.Time `json:"detected_at"`
	BaseTariff   *float64  `json:"base_tariff"`
	Transponder  string    `json:"transponder"`
	LocationCode string    `json:"location_code"`
	Reason       string    `json:"reason"`
	ID           int64     `json:"id"`
	TripID       int64     `json:"trip_id"`
}

// ViolationView is a violation joined with the payment data of its trip.
type ViolationView struct {
	Discount *int     `json:"discount"`
	Paid     *float64 `json:"paid"`
	Violation
}

// ViolationStats summarizes violations for dashboards.
type ViolationStats struct {
	Today     int     `json:"today"`
	LastMonth int     `json:"last_month"`
	Total     int     `json:"total"`
	PaidSum   float64 `json:"paid_sum"`
}
