package models

import "time"

type ServiceType string

const (
	ServiceBeauty    ServiceType = "beauty"
	ServiceFitness   ServiceType = "fitness"
	ServiceLifestyle ServiceType = "lifestyle"
)

func (t ServiceType) Valid() bool {
	switch t {
	case ServiceBeauty, ServiceFitness, ServiceLifestyle:
		return true
	}
	return false
}

type Service struct {
	ID              string      `yaml:"id" json:"id"`
	Name            string      `yaml:"name" json:"name"`
	Type            ServiceType `yaml:"type" json:"type"`
	DurationMinutes int         `yaml:"duration_minutes" json:"duration_minutes"`
	Price           int64       `yaml:"price" json:"price"`
	Currency        string      `yaml:"currency" json:"currency"`
	SortOrder       int64       `yaml:"sort_order" json:"sort_order"`
	IsActive        bool        `yaml:"is_active" json:"is_active"`
	CreatedAt       time.Time   `yaml:"-" json:"created_at"`
	UpdatedAt       time.Time   `yaml:"-" json:"updated_at"`
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type AvailabilitySlot struct {
	ID         string    `json:"id"`
	ServiceID  string    `json:"service_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	ResourceID string    `json:"resource_id,omitempty"`
}
