// Package calibration persists antenna calibrations between runs.
package calibration

import (
	"fmt"
	"io"

	"github.com/w1xm/radiotelescope/antenna"
)

// DefaultDir is where FileStore keeps calibrations, relative to the working
// directory.
const DefaultDir = "calibration"

// Store is an antenna.CalibrationStore that may hold resources.
type Store interface {
	Load(instance string) (antenna.Calibration, error)
	Save(instance string, c antenna.Calibration) error
	io.Closer
}

// Open returns the store named by kind ("file" or "sqlite"). For "file",
// path is a directory; for "sqlite" it is the database file.
func Open(kind, path string) (Store, error) {
	switch kind {
	case "", "file":
		if path == "" {
			path = DefaultDir
		}
		return &FileStore{Dir: path}, nil
	case "sqlite":
		if path == "" {
			path = "calibration.db"
		}
		return NewSQLStore(path)
	}
	return nil, fmt.Errorf("unknown calibration store %q", kind)
}

func instanceName(instance string) string {
	if instance == "" {
		return "default"
	}
	return instance
}
