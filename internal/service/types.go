// Package service contains the backend data services for plat-incidents.
package service

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a country, incident or preference does not exist.
var ErrNotFound = errors.New("not found")

// Incident is one recorded incident.
// Huma reads the tags for OpenAPI + validation.
type Incident struct {
	ID          int64     `json:"id,omitempty" doc:"Incident identifier, assigned on insert" example:"42"`
	Title       string    `json:"title" minLength:"1" maxLength:"300" doc:"Headline" example:"Protest outside parliament"`
	URL         string    `json:"url,omitempty" doc:"Permalink to the incident page" example:"https://example.org/incidents/42"`
	CountryID   int64     `json:"country_id" minimum:"1" doc:"term_id of the country" example:"7"`
	CountrySlug string    `json:"country_slug,omitempty" doc:"Slug of the country" example:"france"`
	TypeName    string    `json:"type_name,omitempty" doc:"Incident type display name" example:"Protest"`
	TypeSlug    string    `json:"type_slug,omitempty" doc:"Incident type slug" example:"protest"`
	Lng         float64   `json:"lng,omitempty" minimum:"-180" maximum:"180" doc:"Longitude"`
	Lat         float64   `json:"lat,omitempty" minimum:"-90" maximum:"90" doc:"Latitude"`
	OccurredAt  time.Time `json:"occurred_at,omitempty" doc:"When the incident happened"`
}

// CountryInfo is the lightweight listing form of a country feature.
type CountryInfo struct {
	ID   int64  `json:"term_id" doc:"Country identifier"`
	Name string `json:"name" doc:"Display name"`
	Slug string `json:"slug" doc:"URL slug"`
	ISO  string `json:"iso_code,omitempty" doc:"ISO 3166-1 alpha-2 code"`
}

