// Package cache keeps the most recent successful schedule in a single slot.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	appLog "timetable/internal/log"
	"timetable/internal/model"
)

// ErrEmpty is returned by a Slot that holds nothing.
var ErrEmpty = errors.New("cache slot is empty")

// Slot is one overwrite-only storage cell for serialized text.
type Slot interface {
	// Read returns the stored bytes or ErrEmpty.
	Read() ([]byte, error)
	// Write replaces the slot content wholesale.
	Write(data []byte) error
	// Clear empties the slot. Clearing an empty slot is not an error.
	Clear() error
}

// CorruptionError describes a slot whose content could not be decoded.
// It is logged, never surfaced to the user.
type CorruptionError struct {
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cached schedule is corrupt: %v", e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Cache persists the last successful ScheduleSnapshot. Last write wins.
type Cache struct {
	slot Slot
}

func New(slot Slot) *Cache {
	return &Cache{slot: slot}
}

// Open builds a cache on the configured backend ("file" or "sqlite").
func Open(backend, path string) (*Cache, error) {
	switch backend {
	case "", "file":
		return New(NewFileSlot(path)), nil
	case "sqlite":
		slot, err := OpenSQLiteSlot(path)
		if err != nil {
			return nil, err
		}
		return New(slot), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// Load returns the cached snapshot, or ok=false when there is none. A slot
// that fails to decode is cleared silently and reported as empty.
func (c *Cache) Load() (snap *model.ScheduleSnapshot, ok bool) {
	data, err := c.slot.Read()
	if err != nil {
		if !errors.Is(err, ErrEmpty) {
			appLog.Error("cache read failed", err)
		}
		return nil, false
	}

	var out model.ScheduleSnapshot
	if err := json.Unmarshal(data, &out); err != nil {
		c.heal(&CorruptionError{Err: err})
		return nil, false
	}
	if out.Empty() {
		c.heal(&CorruptionError{Err: errors.New("slot decoded to an empty schedule")})
		return nil, false
	}

	appLog.Debug("cache hit", "roll_number", out.RollNumber, "classes", len(out.Classes), "exams", len(out.Exams))
	return &out, true
}

func (c *Cache) heal(cause *CorruptionError) {
	appLog.Warn("discarding cached schedule", "err", cause)
	if err := c.slot.Clear(); err != nil {
		appLog.Error("cache clear after corruption failed", err)
	}
}

// Store overwrites the slot with snap.
func (c *Cache) Store(snap *model.ScheduleSnapshot) error {
	if snap == nil {
		return errors.New("cache: nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.slot.Write(data); err != nil {
		return fmt.Errorf("cache: store: %w", err)
	}
	appLog.Debug("cache stored", "roll_number", snap.RollNumber, "bytes", len(data))
	return nil
}

// Clear empties the slot. It is idempotent.
func (c *Cache) Clear() error {
	if err := c.slot.Clear(); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Close releases the slot's resources, if it holds any.
func (c *Cache) Close() error {
	if closer, ok := c.slot.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
