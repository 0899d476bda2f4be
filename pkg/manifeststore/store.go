package manifeststore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/modelref"
)

// Store reads and writes manifests laid out at
// <root>/manifests/<registry>/<namespace>/<name>/<tag> (spec.md §4.4).
type Store struct {
	root string // <root>/manifests
}

func New(root string) (*Store, error) {
	dir := filepath.Join(root, "manifests")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifeststore: create manifests dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// PathFor returns the canonical manifest path for ref.
func (s *Store) PathFor(ref modelref.Ref) string {
	return filepath.Join(s.root, ref.Registry, ref.Namespace, ref.Name, ref.Tag)
}

// legacyPathFor returns the pre-registry-layout path some older
// installs left on disk: <root>/<namespace-with-dashes>/<tag>.json.
// Read-only compatibility per spec.md §4.4.
func (s *Store) legacyPathFor(ref modelref.Ref) string {
	dashed := strings.ReplaceAll(ref.Namespace+"/"+ref.Name, "/", "-")
	return filepath.Join(filepath.Dir(s.root), dashed, ref.Tag+".json")
}

// Load reads and parses the manifest for ref, checking the official
// layout first and falling back to the legacy layout.
func (s *Store) Load(ref modelref.Ref) (*Manifest, error) {
	path := s.PathFor(ref)
	b, err := os.ReadFile(path)
	if err != nil {
		legacy := s.legacyPathFor(ref)
		b, err = os.ReadFile(legacy)
		if err != nil {
			return nil, apperror.NotFound(fmt.Sprintf("manifest %s not found", ref))
		}
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifeststore: parse manifest %s: %w", ref, err)
	}
	return &m, nil
}

// ModifiedAt returns the manifest file's mtime, used to derive
// Model record's modified_at (spec.md §3).
func (s *Store) ModifiedAt(ref modelref.Ref) (time.Time, error) {
	fi, err := os.Stat(s.PathFor(ref))
	if err != nil {
		fi, err = os.Stat(s.legacyPathFor(ref))
		if err != nil {
			return time.Time{}, apperror.NotFound(fmt.Sprintf("manifest %s not found", ref))
		}
	}
	return fi.ModTime(), nil
}

// Save writes m atomically at ref's canonical path: temp file, fsync,
// rename (spec.md §4.4).
func (s *Store) Save(ref modelref.Ref, m *Manifest) error {
	path := s.PathFor(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifeststore: mkdir: %w", err)
	}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifeststore: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("manifeststore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("manifeststore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("manifeststore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifeststore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifeststore: rename: %w", err)
	}
	return nil
}

// Exists reports whether a manifest is present for ref, in either
// layout.
func (s *Store) Exists(ref modelref.Ref) bool {
	if _, err := os.Stat(s.PathFor(ref)); err == nil {
		return true
	}
	_, err := os.Stat(s.legacyPathFor(ref))
	return err == nil
}

// Delete removes the manifest for ref and best-effort prunes now-empty
// parent directories.
func (s *Store) Delete(ref modelref.Ref) error {
	path := s.PathFor(ref)
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("manifeststore: remove: %w", err)
		}
	}
	// Best-effort prune of now-empty name/namespace/registry directories.
	dir := filepath.Dir(path)
	for i := 0; i < 3; i++ {
		if dir == s.root {
			break
		}
		if err := os.Remove(dir); err != nil {
			break // not empty, or already gone — either way stop
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Entry is one manifest discovered by List, with enough to reconstruct
// its reference.
type Entry struct {
	Ref  modelref.Ref
	Path string
}

// List walks the manifest tree (official layout only — the legacy
// layout is read on lookup but not enumerated, matching spec.md §4.4's
// "also read (not written)" compatibility note) and reconstructs each
// manifest's reference from its path.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 4 {
			return nil // not a well-formed registry/namespace/name/tag path
		}
		registry := parts[0]
		namespace := parts[1]
		tag := parts[len(parts)-1]
		name := strings.Join(parts[2:len(parts)-1], "/")
		entries = append(entries, Entry{
			Ref:  modelref.Ref{Registry: registry, Namespace: namespace, Name: name, Tag: tag},
			Path: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifeststore: walk: %w", err)
	}
	return entries, nil
}
