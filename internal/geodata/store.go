// Package geodata loads, caches and indexes the country boundary
// FeatureCollection shared by every map on a page.
package geodata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/metrics"
)

// ErrNoData is returned when no transport produced a dataset. Callers treat
// it as "retry later".
var ErrNoData = errors.New("geodata: no country data")

// ErrSuperseded is returned to callers of a load that a forced load cancelled.
var ErrSuperseded = errors.New("geodata: load superseded")

const flightKey = "countries"

// LoadFunc is told about every load that ran to completion, with the new
// dataset or the error.
type LoadFunc func(fc *geojson.FeatureCollection, err error)

// Options configures a Store.
type Options struct {
	// Sources are tried in order on every attempt.
	Sources []Source
	// Counts, when set, supplies incident counts merged after each load.
	Counts CountsProvider
	// MaxAttempts bounds full passes over Sources. Default 2.
	MaxAttempts int
	// RetryDelay separates attempts. Default 500ms.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Store is the page's single country dataset.
type Store struct {
	opts  Options
	log   *slog.Logger
	group singleflight.Group

	mu        sync.Mutex
	data      *geojson.FeatureCollection
	index     *Index
	gen       uint64
	cancel    context.CancelFunc
	listeners map[int]LoadFunc
	nextID    int
}

// New returns an empty Store.
func New(opts Options) *Store {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &Store{
		opts:      opts,
		log:       logger.Or(opts.Logger),
		index:     BuildIndexes(nil),
		listeners: make(map[int]LoadFunc),
	}
}

// OnLoad registers fn for completed loads and returns a function removing it.
func (s *Store) OnLoad(fn LoadFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Data returns the cached dataset, or nil. Callers must not mutate it.
func (s *Store) Data() *geojson.FeatureCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Loaded reports whether a dataset is cached.
func (s *Store) Loaded() bool { return s.Data() != nil }

// FindCountryFeature resolves key against the current indexes.
func (s *Store) FindCountryFeature(key any) *geojson.Feature {
	s.mu.Lock()
	idx := s.index
	s.mu.Unlock()
	return idx.Find(key)
}

// Load returns the cached dataset unless force is set. Concurrent unforced
// calls share one fetch. A forced call cancels the fetch in flight, whose
// callers get ErrSuperseded, and starts a new one.
func (s *Store) Load(ctx context.Context, force bool) (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	if !force && s.data != nil {
		fc := s.data
		s.mu.Unlock()
		return fc, nil
	}
	if force {
		s.gen++
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.group.Forget(flightKey)
	}
	s.mu.Unlock()

	ch := s.group.DoChan(flightKey, func() (any, error) {
		return s.fetch(ctx)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*geojson.FeatureCollection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) fetch(parent context.Context) (*geojson.FeatureCollection, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	fc, err := s.fetchAll(ctx)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.cancel = nil
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("geodata_load_failed", "err", err)
		s.notify(nil, err)
		return nil, err
	}

	var counts Counts
	if s.opts.Counts != nil {
		c, cerr := s.opts.Counts.Counts(ctx)
		if cerr != nil {
			s.log.Warn("geodata_counts_failed", "err", cerr)
		} else {
			counts = c
		}
	}
	merged := MergeCounts(fc, counts)
	idx := BuildIndexes(merged)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.data = merged
	s.index = idx
	s.mu.Unlock()

	s.log.Info("geodata_loaded", "features", len(merged.Features), "indexed", idx.Len())
	s.notify(merged, nil)
	return merged, nil
}

func (s *Store) fetchAll(ctx context.Context) (*geojson.FeatureCollection, error) {
	if len(s.opts.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", ErrNoData)
	}
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(s.opts.RetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("%w: %v", ErrNoData, ctx.Err())
			case <-t.C:
			}
		}
		for _, src := range s.opts.Sources {
			fc, err := src.Fetch(ctx)
			if err == nil {
				metrics.DatasetLoadsTotal.WithLabelValues(src.Name(), "ok").Inc()
				return fc, nil
			}
			metrics.DatasetLoadsTotal.WithLabelValues(src.Name(), "error").Inc()
			s.log.Debug("geodata_source_failed", "source", src.Name(), "attempt", attempt, "err", err)
			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoData, ctx.Err())
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoData, lastErr)
}

// MergeCounts re-merges counts into the cached dataset, replacing it with a
// merged copy, and notifies listeners. It is a no-op before the first load.
func (s *Store) MergeCounts(c Counts) {
	s.mu.Lock()
	if s.data == nil {
		s.mu.Unlock()
		return
	}
	merged := MergeCounts(s.data, c)
	s.data = merged
	s.index = BuildIndexes(merged)
	s.mu.Unlock()
	s.notify(merged, nil)
}

func (s *Store) notify(fc *geojson.FeatureCollection, err error) {
	s.mu.Lock()
	fns := make([]LoadFunc, 0, len(s.listeners))
	for id := 1; id <= s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(fc, err)
	}
}
