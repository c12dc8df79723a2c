package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	path := filepath.Join(t.TempDir(), "logs", "antennad.log")
	closer, err := Setup(Config{File: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	log.Printf("opening %q", "/dev/ttyUSB0")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), `opening "/dev/ttyUSB0"`) {
		t.Errorf("log file = %q, missing message", data)
	}
}

func TestSetupStderr(t *testing.T) {
	closer, err := Setup(Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
