// Package blobstore implements the Blob Store from spec.md §4.1: a
// reference-counted, content-addressed file store keyed by
// "sha256:<hex>", laid out on disk per spec.md §6.
//
// It mirrors the write-to-temp/fsync/rename commit idiom the teacher
// uses for manifest writes (registryx writes manifests atomically via
// a temp file), generalized here to the blob path since spec.md §4.1
// requires the same discipline for blobs.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/digest"
)

type Store struct {
	root string // <root>/blobs
}

func New(root string) (*Store, error) {
	dir := filepath.Join(root, "blobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create blobs dir: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) pathFor(d digest.Digest) string {
	return filepath.Join(s.root, "sha256-"+d.Hex())
}

func (s *Store) partialPathFor(d digest.Digest) string {
	return s.pathFor(d) + ".partial"
}

// Stat returns the blob's size, or ok=false if it does not exist.
func (s *Store) Stat(d digest.Digest) (size int64, ok bool) {
	fi, err := os.Stat(s.pathFor(d))
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

// Path returns the on-disk path of a committed blob, for callers (the
// Runner, GGUF parsing) that need direct file access rather than a
// stream.
func (s *Store) Path(d digest.Digest) (string, error) {
	p := s.pathFor(d)
	if _, err := os.Stat(p); err != nil {
		return "", apperror.NotFound(fmt.Sprintf("blob %s not found", d))
	}
	return p, nil
}

// Open returns a read handle for the committed blob.
func (s *Store) Open(d digest.Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(d))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.NotFound(fmt.Sprintf("blob %s not found", d))
		}
		return nil, fmt.Errorf("blobstore: open %s: %w", d, err)
	}
	return f, nil
}

// Create commits bytes under digest d, failing with DigestMismatch if
// the content does not hash to d. Concurrent Create calls for the same
// digest race on rename: the first committer wins and the loser
// deletes its own partial file, observing the winner's result.
func (s *Store) Create(d digest.Digest, r io.Reader) error {
	if !d.Valid() {
		return apperror.BadRequest(fmt.Sprintf("invalid digest %q", d))
	}

	partial := s.partialPathFor(d)
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("blobstore: open partial: %w", err)
	}

	v := digest.NewVerifier()
	_, copyErr := io.Copy(f, io.TeeReader(r, v))
	syncErr := f.Sync()
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(partial)
		return fmt.Errorf("blobstore: write blob: %w", copyErr)
	}
	if syncErr != nil {
		os.Remove(partial)
		return fmt.Errorf("blobstore: fsync blob: %w", syncErr)
	}
	if closeErr != nil {
		os.Remove(partial)
		return fmt.Errorf("blobstore: close blob: %w", closeErr)
	}

	if v.Digest() != d {
		os.Remove(partial)
		return apperror.DigestMismatch(fmt.Sprintf("computed %s, expected %s", v.Digest(), d))
	}

	final := s.pathFor(d)
	if err := os.Rename(partial, final); err != nil {
		// Another writer may have already committed; if the final file
		// now exists, the loser just cleans up its partial.
		if _, statErr := os.Stat(final); statErr == nil {
			os.Remove(partial)
			return nil
		}
		return fmt.Errorf("blobstore: commit rename: %w", err)
	}
	return nil
}

// Remove deletes the blob for d. Missing blobs are not an error —
// Model Store's best-effort prune relies on this.
func (s *Store) Remove(d digest.Digest) error {
	err := os.Remove(s.pathFor(d))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: remove %s: %w", d, err)
	}
	return nil
}

// PartialPath returns the path a resumable download should write into
// before it is committed via Create/CommitPartial.
func (s *Store) PartialPath(d digest.Digest) string {
	return s.partialPathFor(d)
}

// CommitPartial verifies an already-written partial file against d and
// renames it into place, the path the Downloader uses (it writes the
// partial file itself via ranged writes, rather than through
// io.Writer, so it cannot use Create directly).
func (s *Store) CommitPartial(d digest.Digest) error {
	partial := s.partialPathFor(d)
	f, err := os.Open(partial)
	if err != nil {
		return fmt.Errorf("blobstore: open partial for commit: %w", err)
	}
	ok, err := digest.Verify(f, d)
	f.Close()
	if err != nil {
		return err
	}
	if !ok {
		os.Remove(partial)
		return apperror.DigestMismatch(fmt.Sprintf("partial blob does not match %s", d))
	}

	final := s.pathFor(d)
	if err := os.Rename(partial, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			os.Remove(partial)
			return nil
		}
		return fmt.Errorf("blobstore: commit rename: %w", err)
	}
	return nil
}
