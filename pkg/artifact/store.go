// Package artifact persists fitted pipeline objects as gzip-compressed gob
// files. Writes go through a temp dir and are renamed into place, so readers
// never observe a partial artifact.
package artifact

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/peterbourgon/diskv"
	"github.com/pkg/errors"

	"github.com/mchmarny/mathscore/pkg/stage"
)

const (
	dirMode    = 0700
	fileMode   = 0600
	tempDirRel = ".tmp"
)

// Info describes an artifact file on disk.
type Info struct {
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// Key identifies the file contents; it changes whenever the file is rewritten.
func (i Info) Key() string {
	return i.Path + "|" + i.ModTime.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(i.Size, 10)
}

// flat stores every key directly under the base path.
func flat(string) []string { return []string{} }

func storeFor(path string) (*diskv.Diskv, string) {
	dir := filepath.Dir(path)
	return diskv.New(diskv.Options{
		BasePath:    dir,
		Transform:   flat,
		TempDir:     filepath.Join(dir, tempDirRel),
		PathPerm:    dirMode,
		FilePerm:    fileMode,
		Compression: diskv.NewGzipCompression(),
	}), filepath.Base(path)
}

// Save gob-encodes v and writes it to path atomically.
func Save(path string, v any) error {
	if path == "" {
		return stage.New(stage.Artifact, stage.KindIO, "artifact path required")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return stage.Wrap(stage.Artifact, stage.KindProcessing, err, "encoding artifact", "path", path)
	}

	s, key := storeFor(path)
	if err := s.Write(key, buf.Bytes()); err != nil {
		return stage.Wrap(stage.Artifact, stage.KindIO, errors.Wrapf(err, "failed to write: %s", path), "saving artifact")
	}
	return nil
}

// Load decodes the artifact at path into v, which must be a pointer.
func Load(path string, v any) error {
	s, key := storeFor(path)
	b, err := s.Read(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stage.Wrap(stage.Artifact, stage.KindArtifactNotFound, err, "artifact not found", "path", path)
		}
		return stage.Wrap(stage.Artifact, stage.KindIO, err, "reading artifact", "path", path)
	}

	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return stage.Wrap(stage.Artifact, stage.KindProcessing, err, "decoding artifact", "path", path)
	}
	return nil
}

// Stat returns size and modification time of the artifact at path.
func Stat(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, stage.Wrap(stage.Artifact, stage.KindArtifactNotFound, err, "artifact not found", "path", path)
		}
		return Info{}, stage.Wrap(stage.Artifact, stage.KindIO, err, "stat artifact", "path", path)
	}
	if fi.IsDir() {
		return Info{}, stage.New(stage.Artifact, stage.KindIO, "artifact path is a directory", "path", path)
	}
	return Info{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Exists reports whether an artifact file is present at path.
func Exists(path string) bool {
	_, err := Stat(path)
	return err == nil
}

// Remove deletes the artifact at path. A missing artifact is not an error.
func Remove(path string) error {
	s, key := storeFor(path)
	if !s.Has(key) {
		return nil
	}
	if err := s.Erase(key); err != nil {
		return stage.Wrap(stage.Artifact, stage.KindIO, err, "removing artifact", "path", path)
	}
	return nil
}

// StagingPath returns a hidden sibling of path for artifacts that are not
// deployed yet. Promote moves it into place.
func StagingPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".staged")
}

// Promote renames the artifact at from to to, replacing any previous file.
// Both paths must be on the same filesystem.
func Promote(from, to string) error {
	if _, err := Stat(from); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), dirMode); err != nil {
		return stage.Wrap(stage.Artifact, stage.KindIO, err, "creating artifact dir", "path", to)
	}
	if err := os.Rename(from, to); err != nil {
		return stage.Wrap(stage.Artifact, stage.KindIO, err, "promoting artifact", "from", from, "to", to)
	}
	return nil
}
