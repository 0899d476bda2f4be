package blobstore

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/digest"
)

func TestCreateAndOpen(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := []byte("model weights go here")
	d := digest.FromBytes(data)

	if err := store.Create(d, strings.NewReader(string(data))); err != nil {
		t.Fatalf("Create: %v", err)
	}

	size, ok := store.Stat(d)
	if !ok {
		t.Fatalf("Stat: blob should exist after Create")
	}
	if size != int64(len(data)) {
		t.Errorf("Stat size = %d, want %d", size, len(data))
	}

	rc, err := store.Open(d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Open content = %q, want %q", got, data)
	}
}

func TestCreateDigestMismatch(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wrongDigest := digest.FromBytes([]byte("not the actual content"))
	err = store.Create(wrongDigest, strings.NewReader("actual content"))
	if err == nil {
		t.Fatalf("expected DigestMismatch error, got nil")
	}
	if apperror.KindOf(err) != apperror.KindDigestMismatch {
		t.Errorf("KindOf(err) = %v, want DigestMismatch", apperror.KindOf(err))
	}

	if _, ok := store.Stat(wrongDigest); ok {
		t.Errorf("a rejected blob should not be committed")
	}
}

func TestOpenMissing(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	missing := digest.FromBytes([]byte("never written"))
	if _, err := store.Open(missing); !apperror.IsNotFound(err) {
		t.Errorf("Open of missing blob should be NotFound, got %v", err)
	}
	if _, ok := store.Stat(missing); ok {
		t.Errorf("Stat of missing blob should report ok=false")
	}
}

func TestRemoveMissingIsNotError(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Remove(digest.FromBytes([]byte("nope"))); err != nil {
		t.Errorf("Remove of a missing blob should be a no-op, got %v", err)
	}
}

func TestCommitPartial(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := []byte("downloaded in chunks")
	d := digest.FromBytes(data)

	f, err := os.Create(store.PartialPath(d))
	if err != nil {
		t.Fatalf("create partial: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	if err := store.CommitPartial(d); err != nil {
		t.Fatalf("CommitPartial: %v", err)
	}
	if _, ok := store.Stat(d); !ok {
		t.Errorf("blob should exist after CommitPartial")
	}
	if _, err := os.Stat(store.PartialPath(d)); !os.IsNotExist(err) {
		t.Errorf("partial file should be gone after commit")
	}
}
