// Package handoff leaves the share result where the host application picks
// it up, and builds the URL that brings the host to the foreground.
package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snaplook/scraper/models"
)

const (
	schemePrefix = "ShareMedia"
	recordKey    = "ShareKey"
	messageKey   = "ShareMessageKey"
)

var (
	// ErrNoRecord is returned when no handoff record has been written
	ErrNoRecord = errors.New("no handoff record")

	// ErrSessionMismatch is returned when updating a record that belongs to another share
	ErrSessionMismatch = errors.New("handoff record belongs to another session")

	// ErrInvalidStatus is returned for unknown or backwards status transitions
	ErrInvalidStatus = errors.New("invalid handoff status")
)

// Config contains handoff configuration
type Config struct {
	Dir      string // Shared container directory read by the host
	BundleID string // Host application bundle identifier
}

// Writer persists the handoff record. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time
}

// NewWriter creates the handoff directory if needed
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("handoff directory is required")
	}
	if cfg.BundleID == "" {
		return nil, errors.New("host bundle id is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create handoff directory: %w", err)
	}
	return &Writer{config: cfg, now: time.Now}, nil
}

// RedirectURL is the custom-scheme URL that opens the host application
func (w *Writer) RedirectURL() string {
	return fmt.Sprintf("%s-%s:share", schemePrefix, w.config.BundleID)
}

// Write replaces the current record. The message is also stored on its own
// so hosts that only read the message key still see it.
func (w *Writer) Write(record models.HandoffRecord) error {
	if !record.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, record.Status)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Files == nil {
		record.Files = []models.SharedMediaFile{}
	}

	if err := writeJSON(w.path(recordKey), record); err != nil {
		return fmt.Errorf("failed to write handoff record: %w", err)
	}

	if record.Message != "" {
		if err := writeJSON(w.path(messageKey), record.Message); err != nil {
			return fmt.Errorf("failed to write handoff message: %w", err)
		}
	} else if err := os.Remove(w.path(messageKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear handoff message: %w", err)
	}
	return nil
}

// UpdateStatus advances the status of the current record. Status never moves
// backwards and only the owning session may update it.
func (w *Writer) UpdateStatus(sessionID string, status models.HandoffStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	record, err := w.read()
	if err != nil {
		return err
	}
	if record.SessionID != sessionID {
		return ErrSessionMismatch
	}
	if statusRank(status) < statusRank(record.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, record.Status, status)
	}

	record.Status = status
	record.UpdatedAt = w.now().UTC()
	if err := writeJSON(w.path(recordKey), record); err != nil {
		return fmt.Errorf("failed to write handoff record: %w", err)
	}
	return nil
}

// Read returns the current record
func (w *Writer) Read() (*models.HandoffRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.read()
}

// Clear removes the record and message when they still belong to sessionID.
// A record written since by another share is left in place.
func (w *Writer) Clear(sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record, err := w.read()
	if errors.Is(err, ErrNoRecord) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.SessionID != sessionID {
		return ErrSessionMismatch
	}

	for _, key := range []string{recordKey, messageKey} {
		if err := os.Remove(w.path(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}

func (w *Writer) read() (*models.HandoffRecord, error) {
	data, err := os.ReadFile(w.path(recordKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("failed to read handoff record: %w", err)
	}
	var record models.HandoffRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode handoff record: %w", err)
	}
	return &record, nil
}

func (w *Writer) path(key string) string {
	return filepath.Join(w.config.Dir, key+".json")
}

func statusRank(s models.HandoffStatus) int {
	switch s {
	case models.StatusPending:
		return 0
	case models.StatusProcessing:
		return 1
	case models.StatusCompleted:
		return 2
	}
	return -1
}

// writeJSON writes to a temp file in the same directory, then renames it over the target
func writeJSON(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
