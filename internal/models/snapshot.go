// Package models defines the core domain records: outcome snapshots and trades.
package models

import (
	"errors"
	"time"
)

// OutcomeSnapshot is a point-in-time observation of one tradable outcome.
// Snapshots are rebuilt on every scan and never mutated afterwards.
type OutcomeSnapshot struct {
	OutcomeID   string     `json:"outcome_id"`
	MarketID    string     `json:"market_id"`
	MarketName  string     `json:"market_name"`
	OutcomeName string     `json:"outcome_name"`
	EventTitle  string     `json:"event_title,omitempty"`
	MarketURL   string     `json:"market_url"`
	Price       float64    `json:"price"`
	Liquidity   float64    `json:"liquidity"`
	Volume      float64    `json:"volume"`
	Volume24h   float64    `json:"volume_24h"`
	Resolution  *time.Time `json:"resolution_time,omitempty"`
}

// Validate checks snapshot field constraints.
func (s *OutcomeSnapshot) Validate() error {
	if s.OutcomeID == "" {
		return errors.New("outcome ID must not be empty")
	}
	if s.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if s.Price < 0.0 || s.Price > 1.0 {
		return errors.New("price must be between 0.0 and 1.0")
	}
	if s.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	if s.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if s.Volume24h < 0 {
		return errors.New("24h volume must not be negative")
	}
	return nil
}
