// Package workbooks caches opened lead workbooks so repeated loads of the
// same export, or of several of its sheets, reuse one excelize handle.
package workbooks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/mcpfunnel/config"
)

var (
	// ErrHandleNotFound indicates an unknown or expired handle ID.
	ErrHandleNotFound = errors.New("workbooks: handle not found")
	// ErrUnsupportedFormat is returned for files that are not Excel workbooks.
	ErrUnsupportedFormat = errors.New("workbooks: unsupported format")
	// ErrSheetNotFound is returned by ReadRows for a missing sheet.
	ErrSheetNotFound = errors.New("workbooks: sheet not found")
)

// Handle is a cached lead workbook with its idle deadline.
type Handle struct {
	ID        string
	Path      string
	File      *excelize.File
	LoadedAt  time.Time
	ExpiresAt time.Time
	mu        sync.RWMutex
}

// Expired reports whether the handle has been idle past its deadline.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return now.After(h.ExpiresAt)
}

// WorkbookGate bounds open handles; runtime.Controller implements it.
type WorkbookGate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// PathValidator resolves a requested path to a canonical allowed path.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// Manager caches opened workbooks by ID and by canonical path.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	byPath       map[string]string
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         WorkbookGate
	validator    PathValidator
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupWG    sync.WaitGroup
}

// NewManager constructs a manager. ttl or cleanupEvery <= 0 use the config
// defaults; gate may be nil in tests and clock defaults to time.Now.
func NewManager(ttl, cleanupEvery time.Duration, gate WorkbookGate, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultWorkbookIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultWorkbookCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		handles:      make(map[string]*Handle),
		byPath:       make(map[string]string),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		stopCh:       make(chan struct{}),
	}
}

// SetValidator installs the allow-list check applied before opening.
func (m *Manager) SetValidator(v PathValidator) { m.validator = v }

// Start launches periodic eviction of idle handles.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops the cleanup loop and closes every handle.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.handles {
		h.mu.Lock()
		_ = h.File.Close()
		h.mu.Unlock()
		delete(m.handles, id)
		m.release()
	}
	clear(m.byPath)
	return nil
}

// IsWorkbookPath reports whether path has an Excel workbook extension.
func IsWorkbookPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return false
}

// GetOrOpenByPath returns the cached handle for path, opening the file when
// it is not cached yet. The canonical path is returned alongside the ID.
// Concurrent calls for one path share a single handle.
func (m *Manager) GetOrOpenByPath(ctx context.Context, path string) (string, string, error) {
	if !IsWorkbookPath(path) {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	canonical := path
	if m.validator != nil {
		c, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			return "", "", err
		}
		canonical = c
	}
	if id, ok := m.lookup(canonical); ok {
		return id, canonical, nil
	}

	if err := m.acquire(ctx); err != nil {
		return "", "", err
	}
	f, err := excelize.OpenFile(canonical)
	if err != nil {
		m.release()
		return "", "", fmt.Errorf("workbooks: open %s: %w", filepath.Base(canonical), err)
	}
	return m.register(f, canonical), canonical, nil
}

func (m *Manager) lookup(path string) (string, bool) {
	m.mu.RLock()
	id, ok := m.byPath[path]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	_, live := m.Get(id)
	return id, live
}

// register stores f under path. When another caller registered the same
// path first, f is closed and the existing handle wins.
func (m *Manager) register(f *excelize.File, path string) string {
	now := m.clock()
	m.mu.Lock()
	if id, ok := m.byPath[path]; ok {
		if h, live := m.handles[id]; live {
			h.mu.Lock()
			h.ExpiresAt = now.Add(m.ttl)
			h.mu.Unlock()
			m.mu.Unlock()
			_ = f.Close()
			m.release()
			return id
		}
	}
	h := &Handle{ID: uuid.NewString(), Path: path, File: f, LoadedAt: now, ExpiresAt: now.Add(m.ttl)}
	m.handles[h.ID] = h
	m.byPath[path] = h.ID
	m.mu.Unlock()
	return h.ID
}

// Get returns the handle when present and refreshes its idle deadline.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	h.mu.Lock()
	h.ExpiresAt = m.clock().Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// ReadRows returns every row of sheet with raw cell values, so dates come
// back as serial numbers rather than display strings. An empty sheet name
// selects the first sheet. The resolved sheet name is returned.
func (m *Manager) ReadRows(id, sheet string) ([][]string, string, error) {
	h, ok := m.Get(id)
	if !ok {
		return nil, "", ErrHandleNotFound
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	sheets := h.File.GetSheetList()
	if sheet == "" && len(sheets) > 0 {
		sheet = sheets[0]
	}
	if idx, err := h.File.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, sheet, fmt.Errorf("%w: %q (available: %s)", ErrSheetNotFound, sheet, strings.Join(sheets, ", "))
	}
	rows, err := h.File.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, sheet, fmt.Errorf("workbooks: read %q: %w", sheet, err)
	}
	return rows, sheet, nil
}

// CloseHandle closes and removes a handle, releasing capacity.
func (m *Manager) CloseHandle(id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
		if m.byPath[h.Path] == id {
			delete(m.byPath, h.Path)
		}
	}
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.Lock()
	err := h.File.Close()
	h.mu.Unlock()
	m.release()
	return err
}

// EvictExpired closes handles whose idle deadline has passed.
func (m *Manager) EvictExpired() int {
	now := m.clock()
	var expired []string

	m.mu.RLock()
	for id, h := range m.handles {
		if h.Expired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range expired {
		if m.CloseHandle(id) != ErrHandleNotFound {
			n++
		}
	}
	return n
}

// Count returns the current number of cached handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireWorkbook(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseWorkbook()
}
