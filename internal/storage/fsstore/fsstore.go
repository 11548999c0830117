// Package fsstore provides the filesystem primitives the coordination
// substrate is built on: atomic whole-file writes, exclusive creation,
// and JSON/JSONL helpers. Every shared file in the system (boards,
// envelopes, claims, heartbeats) goes through these functions so that a
// partially written file is never visible to another process.
package fsstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrExists indicates an exclusive create failed because the file is
// already present.
var ErrExists = errors.New("file already exists")

// WriteFileAtomic writes content to path using a temp file + rename so
// readers never observe a half-written file.
func WriteFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write %s tmp: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}

	return nil
}

// WriteJSONAtomic marshals v as indented JSON and writes it atomically.
// Board files and claim records stay human-inspectable this way.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadJSON reads path and unmarshals it into out. Returns os.ErrNotExist
// (wrapped) when the file is missing.
func ReadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// CreateExclusive atomically creates path with the given content, failing
// with ErrExists if the file is already present. Two racing callers can
// never both succeed; this is the first-writer-wins primitive behind
// mailbox claims and file locks.
func CreateExclusive(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrExists)
		}
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}

	_, werr := f.Write(content)
	cerr := f.Close()
	if werr != nil {
		os.Remove(path)
		return fmt.Errorf("write %s: %w", filepath.Base(path), werr)
	}
	if cerr != nil {
		os.Remove(path)
		return fmt.Errorf("close %s: %w", filepath.Base(path), cerr)
	}

	return nil
}

// AppendJSONL appends a JSON-encoded line to path, creating it if needed.
func AppendJSONL(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	return nil
}

// LoadJSONL reads all JSON lines from path, deserializing each into type T.
// Missing files yield an empty slice; corrupted lines are skipped.
func LoadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var items []T
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			continue // skip corrupted lines
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}

	return items, nil
}

// ListFiles returns the names of regular files in dir sorted by name,
// excluding in-flight temp files. A missing directory yields nil.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", filepath.Base(dir), err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".tmp" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
