package datasets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpfunnel/config"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/internal/workbooks"
)

// Entry is a loaded lead dataset held in memory between tool calls.
type Entry struct {
	ID        string
	Name      string
	Path      string
	Sheet     string
	Dataset   *leads.Dataset
	Stats     leads.LoadStats
	LoadedAt  time.Time
	expiresAt time.Time
	mu        sync.Mutex
}

// ExpiresAt returns the idle deadline.
func (e *Entry) ExpiresAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expiresAt
}

// Info is the listing view of an entry.
type Info struct {
	ID        string          `json:"dataset_id"`
	Name      string          `json:"name"`
	Sheet     string          `json:"sheet,omitempty"`
	Stats     leads.LoadStats `json:"stats"`
	LoadedAt  time.Time       `json:"loaded_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Capacity bounds how many datasets may be held (backed by runtime.Controller).
type Capacity interface {
	TryAcquireDataset() bool
	ReleaseDataset()
}

// PathValidator resolves a requested path to a canonical allowed path.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

var (
	// ErrNotFound indicates an unknown or expired dataset ID.
	ErrNotFound = errors.New("datasets: dataset not found")
	// ErrCapacity indicates the dataset limit is reached.
	ErrCapacity = errors.New("datasets: dataset limit reached")
	// ErrTooManyRows indicates the source exceeds the per-load row limit.
	ErrTooManyRows = errors.New("datasets: row limit exceeded")
)

// LoadRequest describes one lead file to load.
type LoadRequest struct {
	Path  string
	Sheet string
	// Location overrides the store default for naive timestamps.
	Location *time.Location
}

// Store keeps datasets by ID with an idle TTL. Workbook sources go through
// the workbook manager so sheets of one file share a handle.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	ttl       time.Duration
	maxRows   int
	opts      leads.LoadOptions
	books     *workbooks.Manager
	validator PathValidator
	capacity  Capacity
	clock     func() time.Time
	log       zerolog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Options configures a Store. Zero values fall back to config defaults.
type Options struct {
	TTL       time.Duration
	MaxRows   int
	Load      leads.LoadOptions
	Workbooks *workbooks.Manager
	Validator PathValidator
	Capacity  Capacity
	Clock     func() time.Time
	Logger    zerolog.Logger
}

// NewStore constructs a store.
func NewStore(o Options) *Store {
	if o.TTL <= 0 {
		o.TTL = config.DefaultDatasetIdleTTL
	}
	if o.MaxRows <= 0 {
		o.MaxRows = config.DefaultMaxRowsPerLoad
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Workbooks == nil {
		o.Workbooks = workbooks.NewManager(0, 0, nil, o.Clock)
		o.Workbooks.SetValidator(o.Validator)
	}
	return &Store{
		entries:   make(map[string]*Entry),
		ttl:       o.TTL,
		maxRows:   o.MaxRows,
		opts:      o.Load,
		books:     o.Workbooks,
		validator: o.Validator,
		capacity:  o.Capacity,
		clock:     o.Clock,
		log:       o.Logger.With().Str("component", "datasets").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Load reads a CSV or workbook sheet and registers the resulting dataset.
func (s *Store) Load(ctx context.Context, req LoadRequest) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := req.Path
	if s.validator != nil {
		canonical, err := s.validator.ValidateOpenPath(path)
		if err != nil {
			return nil, err
		}
		path = canonical
	}
	opts := s.opts
	if req.Location != nil {
		opts.Location = req.Location
	}

	var (
		ds    *leads.Dataset
		stats leads.LoadStats
		sheet string
		err   error
	)
	switch {
	case workbooks.IsWorkbookPath(path):
		ds, stats, sheet, err = s.loadWorkbook(ctx, path, req.Sheet, opts)
	case strings.EqualFold(filepath.Ext(path), ".csv"):
		ds, stats, err = s.loadCSV(path, opts)
	default:
		err = fmt.Errorf("%w: %s", workbooks.ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if stats.Rows > s.maxRows {
		return nil, fmt.Errorf("%w: %d rows (max %d)", ErrTooManyRows, stats.Rows, s.maxRows)
	}

	name := filepath.Base(path)
	if sheet != "" {
		name += "#" + sheet
	}
	e, err := s.register(name, path, sheet, ds, stats)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("dataset_id", e.ID).Str("name", name).Int("rows", stats.Rows).Int("loaded", stats.Loaded).
		Int("skipped", stats.Skipped).Int("dropped", stats.Dropped).Msg("dataset loaded")
	return e, nil
}

func (s *Store) loadWorkbook(ctx context.Context, path, sheet string, opts leads.LoadOptions) (*leads.Dataset, leads.LoadStats, string, error) {
	id, _, err := s.books.GetOrOpenByPath(ctx, path)
	if err != nil {
		return nil, leads.LoadStats{}, "", err
	}
	rows, resolved, err := s.books.ReadRows(id, sheet)
	if err != nil {
		return nil, leads.LoadStats{}, "", err
	}
	if len(rows)-1 > s.maxRows {
		return nil, leads.LoadStats{}, "", fmt.Errorf("%w: %d rows (max %d)", ErrTooManyRows, len(rows)-1, s.maxRows)
	}
	ds, stats, err := leads.DecodeRows(rows, opts)
	return ds, stats, resolved, err
}

func (s *Store) loadCSV(path string, opts leads.LoadOptions) (*leads.Dataset, leads.LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, leads.LoadStats{}, fmt.Errorf("datasets: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	return leads.DecodeCSV(f, opts)
}

// Add registers an already built dataset under name.
func (s *Store) Add(name string, ds *leads.Dataset) (*Entry, error) {
	if ds == nil {
		return nil, fmt.Errorf("datasets: nil dataset")
	}
	stats := leads.LoadStats{Rows: ds.Len() + ds.Dropped(), Loaded: ds.Len(), Dropped: ds.Dropped(), Dimensions: ds.Dimensions()}
	return s.register(name, "", "", ds, stats)
}

func (s *Store) register(name, path, sheet string, ds *leads.Dataset, stats leads.LoadStats) (*Entry, error) {
	if s.capacity != nil && !s.capacity.TryAcquireDataset() {
		return nil, ErrCapacity
	}
	now := s.clock()
	e := &Entry{
		ID:        uuid.NewString(),
		Name:      name,
		Path:      path,
		Sheet:     sheet,
		Dataset:   ds,
		Stats:     stats,
		LoadedAt:  now,
		expiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
	return e, nil
}

// Get returns the entry and refreshes its idle deadline.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	e.expiresAt = s.clock().Add(s.ttl)
	e.mu.Unlock()
	return e, true
}

// Close drops a dataset and frees its slot.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.capacity != nil {
		s.capacity.ReleaseDataset()
	}
	return nil
}

// List returns the held datasets, oldest first.
func (s *Store) List() []Info {
	s.mu.RLock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Info{ID: e.ID, Name: e.Name, Sheet: e.Sheet, Stats: e.Stats, LoadedAt: e.LoadedAt, ExpiresAt: e.ExpiresAt()})
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.LoadedAt.Compare(b.LoadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of held datasets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// EvictExpired drops datasets idle past their deadline.
func (s *Store) EvictExpired() int {
	now := s.clock()
	var expired []string
	s.mu.RLock()
	for id, e := range s.entries {
		if now.After(e.ExpiresAt()) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()
	n := 0
	for _, id := range expired {
		if s.Close(id) == nil {
			n++
		}
	}
	if n > 0 {
		s.log.Debug().Int("evicted", n).Msg("idle datasets evicted")
	}
	return n
}

// Start launches periodic eviction.
func (s *Store) Start(every time.Duration) {
	if every <= 0 {
		every = config.DefaultWorkbookCleanupPeriod
	}
	s.wg.Add(1)
	ticker := time.NewTicker(every)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.EvictExpired()
			}
		}
	}()
}

// Shutdown stops the eviction loop and drops every dataset.
func (s *Store) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		_ = s.Close(id)
	}
	return nil
}
