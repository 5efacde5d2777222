// Package library persists scores as one JSON document per entry, named
// by a generated id, under an env-configured directory. This is the only
// persisted state the pipeline produces.
package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"scoreplay/constants"
	"scoreplay/model"
)

var ErrBadID = errors.New("invalid library id")

// Overview is the listing row for one stored score.
type Overview struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Composer string  `json:"composer"`
	Parts    int     `json:"parts"`
	Notes    int     `json:"notes"`
	Seconds  float64 `json:"seconds"`
}

// Save writes the score as <uuid>.json and returns the id.
func Save(s *model.Score) (string, error) {
	dir := constants.GetLibraryDir()
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", errors.Wrapf(err, "creating library dir %q", dir)
	}
	id := uuid.New().String()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding score")
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0666); err != nil {
		return "", errors.Wrapf(err, "writing score %v", id)
	}
	return id, nil
}

// Load reads one stored score back, field for field.
func Load(id string) (*model.Score, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.Wrapf(ErrBadID, "%q", id)
	}
	data, err := os.ReadFile(filepath.Join(constants.GetLibraryDir(), id+".json"))
	if err != nil {
		return nil, errors.Wrapf(err, "reading score %v", id)
	}
	var s model.Score
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "decoding score %v", id)
	}
	return &s, nil
}

// Delete removes one stored score.
func Delete(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrapf(ErrBadID, "%q", id)
	}
	return os.Remove(filepath.Join(constants.GetLibraryDir(), id+".json"))
}

// List returns an overview of every readable entry. Entries that fail to
// parse are skipped rather than failing the whole listing.
func List() ([]Overview, error) {
	files, err := os.ReadDir(constants.GetLibraryDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading library dir")
	}

	var res []Overview
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(f.Name(), ".json")
		s, err := Load(id)
		if err != nil {
			continue
		}
		res = append(res, Overview{
			ID:       id,
			Title:    s.Title,
			Composer: s.Composer,
			Parts:    len(s.Parts),
			Notes:    s.NoteCount(),
			Seconds:  s.TotalDuration(),
		})
	}
	return res, nil
}
