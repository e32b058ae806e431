package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/popup"
)

// IncidentStore is what the API needs from incident storage.
type IncidentStore interface {
	Counts(ctx context.Context) (geodata.Counts, error)
	Summary(ctx context.Context, countryID int64, limit int) (*popup.Summary, error)
	List(ctx context.Context, offset, limit int) ([]Incident, int, error)
	Get(ctx context.Context, id int64) (Incident, error)
	Insert(ctx context.Context, in Incident) (Incident, error)
}

// Schema is portable between DuckDB and Postgres.
const Schema = `CREATE TABLE IF NOT EXISTS incidents (
	id BIGINT PRIMARY KEY,
	title TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	country_id BIGINT NOT NULL,
	country_slug TEXT NOT NULL DEFAULT '',
	type_name TEXT NOT NULL DEFAULT '',
	type_slug TEXT NOT NULL DEFAULT '',
	lng FLOAT8 NOT NULL DEFAULT 0,
	lat FLOAT8 NOT NULL DEFAULT 0,
	occurred_at TIMESTAMP
)`

const incidentCols = "id, title, url, country_id, country_slug, type_name, type_slug, lng, lat, occurred_at"

// IncidentRepository stores incidents in a SQL database.
type IncidentRepository struct {
	db *sql.DB
	mu sync.Mutex // serialises id assignment
}

// NewIncidentRepository wraps db. Call Migrate before use.
func NewIncidentRepository(db *sql.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Migrate creates the incidents table if needed.
func (r *IncidentRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create incidents table: %w", err)
	}
	return nil
}

// Insert stores in. A zero ID is replaced with the next free one.
func (r *IncidentRepository) Insert(ctx context.Context, in Incident) (Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if in.ID == 0 {
		if err := r.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM incidents").Scan(&in.ID); err != nil {
			return Incident{}, fmt.Errorf("next incident id: %w", err)
		}
	}
	in.CountrySlug = strings.ToLower(in.CountrySlug)

	var at any
	if !in.OccurredAt.IsZero() {
		in.OccurredAt = in.OccurredAt.UTC()
		at = in.OccurredAt
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO incidents ("+incidentCols+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		in.ID, in.Title, in.URL, in.CountryID, in.CountrySlug, in.TypeName, in.TypeSlug, in.Lng, in.Lat, at)
	if err != nil {
		return Incident{}, fmt.Errorf("insert incident: %w", err)
	}
	return in, nil
}

// Get returns one incident.
func (r *IncidentRepository) Get(ctx context.Context, id int64) (Incident, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+incidentCols+" FROM incidents WHERE id = $1", id)
	in, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Incident{}, fmt.Errorf("incident %d: %w", id, ErrNotFound)
	}
	return in, err
}

// List returns one page of incidents, newest first, and the total count.
func (r *IncidentRepository) List(ctx context.Context, offset, limit int) ([]Incident, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+incidentCols+" FROM incidents"+
		" ORDER BY occurred_at DESC NULLS LAST, id DESC"+pageClause(offset, limit))
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	out := []Incident{}
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, in)
	}
	return out, total, rows.Err()
}

// Counts returns incident counts keyed by country id and by lowercased slug.
func (r *IncidentRepository) Counts(ctx context.Context) (geodata.Counts, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT country_id, country_slug, COUNT(*) FROM incidents GROUP BY country_id, country_slug")
	if err != nil {
		return geodata.Counts{}, fmt.Errorf("count by country: %w", err)
	}
	defer rows.Close()

	c := geodata.Counts{ByID: map[string]int{}, BySlug: map[string]int{}}
	for rows.Next() {
		var (
			id   int64
			slug string
			n    int
		)
		if err := rows.Scan(&id, &slug, &n); err != nil {
			return geodata.Counts{}, err
		}
		c.ByID[strconv.FormatInt(id, 10)] += n
		if slug != "" {
			c.BySlug[slug] += n
		}
	}
	return c, rows.Err()
}

// Summary returns the total, the ranked type breakdown and the latest
// limit incidents of one country. A country with no incidents yields a
// zero summary.
func (r *IncidentRepository) Summary(ctx context.Context, countryID int64, limit int) (*popup.Summary, error) {
	s := &popup.Summary{Incidents: []popup.IncidentEntry{}, Types: []popup.TypeCount{}}
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM incidents WHERE country_id = $1", countryID).Scan(&s.Total); err != nil {
		return nil, fmt.Errorf("count country incidents: %w", err)
	}
	if s.Total == 0 {
		return s, nil
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT type_name, type_slug, COUNT(*) AS n FROM incidents"+
			" WHERE country_id = $1 AND type_name <> ''"+
			" GROUP BY type_name, type_slug ORDER BY n DESC, type_name ASC", countryID)
	if err != nil {
		return nil, fmt.Errorf("count incident types: %w", err)
	}
	for rows.Next() {
		var tc popup.TypeCount
		if err := rows.Scan(&tc.Name, &tc.Slug, &tc.Count); err != nil {
			rows.Close()
			return nil, err
		}
		s.Types = append(s.Types, tc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.TypesTotal = len(s.Types)

	if limit <= 0 {
		return s, nil
	}
	rows, err = r.db.QueryContext(ctx, "SELECT "+incidentCols+" FROM incidents WHERE country_id = $1"+
		" ORDER BY occurred_at DESC NULLS LAST, id DESC"+pageClause(0, limit), countryID)
	if err != nil {
		return nil, fmt.Errorf("list country incidents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		s.Incidents = append(s.Incidents, in.SummaryEntry())
	}
	return s, rows.Err()
}

// SummaryEntry converts to the popup list form.
func (in Incident) SummaryEntry() popup.IncidentEntry {
	e := popup.IncidentEntry{ID: in.ID, Title: in.Title, URL: in.URL, Type: in.TypeName}
	if !in.OccurredAt.IsZero() {
		e.Date = in.OccurredAt.Format(time.DateOnly)
	}
	return e
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(sc scanner) (Incident, error) {
	var (
		in Incident
		at sql.NullTime
	)
	err := sc.Scan(&in.ID, &in.Title, &in.URL, &in.CountryID, &in.CountrySlug,
		&in.TypeName, &in.TypeSlug, &in.Lng, &in.Lat, &at)
	if err != nil {
		return Incident{}, err
	}
	if at.Valid {
		in.OccurredAt = at.Time.UTC()
	}
	return in, nil
}

// pageClause renders LIMIT/OFFSET inline; both are ints so nothing is
// interpolated from user text.
func pageClause(offset, limit int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}
