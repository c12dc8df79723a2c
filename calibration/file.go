package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/w1xm/radiotelescope/antenna"
)

// FileStore keeps one JSON document per instance in Dir.
type FileStore struct {
	Dir string
}

func (s *FileStore) Path(instance string) string {
	return filepath.Join(s.Dir, instanceName(instance)+".json")
}

func (s *FileStore) Load(instance string) (antenna.Calibration, error) {
	var c antenna.Calibration
	data, err := os.ReadFile(s.Path(instance))
	if errors.Is(err, fs.ErrNotExist) {
		return c, antenna.ErrNoCalibration
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return antenna.Calibration{}, fmt.Errorf("parsing %s: %w", s.Path(instance), err)
	}
	return c, nil
}

// Save replaces the stored calibration atomically.
func (s *FileStore) Save(instance string, c antenna.Calibration) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(s.Dir, "."+instanceName(instance)+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), s.Path(instance))
}

func (s *FileStore) Close() error { return nil }
