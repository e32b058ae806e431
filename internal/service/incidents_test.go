package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeblew999/plat-incidents/internal/db"
)

func newRepo(t *testing.T) *IncidentRepository {
	t.Helper()
	conn, err := db.Open(db.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	r := NewIncidentRepository(conn)
	if err := r.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

func seed(t *testing.T, r *IncidentRepository) {
	t.Helper()
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []Incident{
		{Title: "March", CountryID: 7, CountrySlug: "Germany", TypeName: "Protest", TypeSlug: "protest", OccurredAt: day},
		{Title: "Strike", CountryID: 7, CountrySlug: "germany", TypeName: "Strike", TypeSlug: "strike", OccurredAt: day.Add(48 * time.Hour)},
		{Title: "Rally", CountryID: 7, CountrySlug: "germany", TypeName: "Protest", TypeSlug: "protest", OccurredAt: day.Add(24 * time.Hour)},
		{Title: "Undated", CountryID: 7, CountrySlug: "germany"},
		{Title: "Elsewhere", CountryID: 9, CountrySlug: "france", TypeName: "Arrest", TypeSlug: "arrest", OccurredAt: day},
	}
	for _, in := range rows {
		if _, err := r.Insert(context.Background(), in); err != nil {
			t.Fatalf("insert %q: %v", in.Title, err)
		}
	}
}

func TestIncidentInsertAssignsIDs(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	a, err := r.Insert(ctx, Incident{Title: "a", CountryID: 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Insert(ctx, Incident{Title: "b", CountryID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids=%d,%d, want 1,2", a.ID, b.ID)
	}
	got, err := r.Get(ctx, 2)
	if err != nil || got.Title != "b" || !got.OccurredAt.IsZero() {
		t.Fatalf("Get=%+v, %v", got, err)
	}
	if _, err := r.Get(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestIncidentCounts(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	c, err := r.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.ByID["7"] != 4 || c.ByID["9"] != 1 {
		t.Fatalf("byId=%v", c.ByID)
	}
	if c.BySlug["germany"] != 4 || c.BySlug["france"] != 1 {
		t.Fatalf("bySlug=%v", c.BySlug)
	}
}

func TestIncidentSummary(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	s, err := r.Summary(context.Background(), 7, 2)
	if err != nil {
		t.Fatal(err)
	}
	if s.Total != 4 || s.TypesTotal != 2 {
		t.Fatalf("total=%d types_total=%d", s.Total, s.TypesTotal)
	}
	if s.Types[0].Slug != "protest" || s.Types[0].Count != 2 || s.Types[1].Slug != "strike" {
		t.Fatalf("types=%+v", s.Types)
	}
	if len(s.Incidents) != 2 || s.Incidents[0].Title != "Strike" || s.Incidents[1].Title != "Rally" {
		t.Fatalf("incidents=%+v", s.Incidents)
	}
	if s.Incidents[0].Date != "2024-03-03" {
		t.Fatalf("date=%q", s.Incidents[0].Date)
	}

	empty, err := r.Summary(context.Background(), 404, 10)
	if err != nil || empty.Total != 0 || len(empty.Types) != 0 || empty.Incidents == nil {
		t.Fatalf("empty=%+v, %v", empty, err)
	}
}

func TestIncidentListPages(t *testing.T) {
	r := newRepo(t)
	seed(t, r)
	page, total, err := r.List(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d", total, len(page))
	}
	if page[0].Title != "Rally" {
		t.Fatalf("page[0]=%q, want Rally", page[0].Title)
	}
	last, _, _ := r.List(context.Background(), 4, 10)
	if len(last) != 1 || last[0].Title != "Undated" {
		t.Fatalf("last=%+v", last)
	}
}
