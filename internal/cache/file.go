package cache

import (
	"errors"
	"io/fs"
	"os"

	"timetable/internal/config"
)

// FileSlot stores the slot as a single file, replaced atomically.
type FileSlot struct {
	path string
}

func NewFileSlot(path string) *FileSlot {
	if path == "" {
		path = "./var/last_schedule.json"
	}
	return &FileSlot{path: path}
}

func (s *FileSlot) Path() string {
	return s.path
}

func (s *FileSlot) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

func (s *FileSlot) Write(data []byte) error {
	return config.WriteFileAtomic(s.path, data, ".timetable-cache-*.tmp")
}

func (s *FileSlot) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
