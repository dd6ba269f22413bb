package models

import "time"

type Service struct {
	ServiceID        string    `json:"service_id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	MaxDailyQueue    int       `json:"max_daily_queue"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

const DefaultMaxDailyQueue = 50
