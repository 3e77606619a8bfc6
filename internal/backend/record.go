package backend

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Record summarizes a completed processing run.
type Record struct {
	Video    string            `json:"video"`
	Params   map[string]string `json:"params"`
	Frames   int               `json:"frames"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
}

// saveRecord writes r to dir as <video name>.json and returns the file path.
func saveRecord(dir string, r Record) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create record dir")
	}

	base := filepath.Base(r.Video)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode record")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write record")
	}
	return path, nil
}
