package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/digest"
)

func TestDownloadSequentialNoRangeSupport(t *testing.T) {
	body := strings.Repeat("x", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	d := New(Options{})
	target := filepath.Join(t.TempDir(), "out.bin")
	want := digest.FromBytes([]byte(body))

	if err := d.Download(context.Background(), srv.URL, target, 1000, want, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != body {
		t.Errorf("downloaded content mismatch, got %d bytes want %d", len(got), len(body))
	}
}

func TestDownloadDigestMismatchRemovesFile(t *testing.T) {
	body := "hello world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "11")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	d := New(Options{})
	target := filepath.Join(t.TempDir(), "out.bin")
	wrong := digest.FromBytes([]byte("not the body"))

	err := d.Download(context.Background(), srv.URL, target, 11, wrong, nil)
	if apperror.KindOf(err) != apperror.KindDigestMismatch {
		t.Fatalf("Download with a wrong digest should fail with KindDigestMismatch, got %v", err)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Errorf("a digest-mismatched download should remove the partial file")
	}
}

func TestDownloadChunkedWithRangeSupport(t *testing.T) {
	body := strings.Repeat("abcdefgh", 1<<17) // 1 MiB, well over a tiny min-split
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1048576")
			return
		}
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Write([]byte(body))
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body[start : end+1]))
	}))
	defer srv.Close()

	d := New(Options{ChunkSize: 64 << 10, MinSplitSize: 128 << 10, Concurrency: 4})
	target := filepath.Join(t.TempDir(), "out.bin")
	want := digest.FromBytes([]byte(body))

	if err := d.Download(context.Background(), srv.URL, target, int64(len(body)), want, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != body {
		t.Errorf("chunked download content mismatch, got %d bytes want %d", len(got), len(body))
	}
}

func TestProgressCounterEmitsOnStepAndCompletion(t *testing.T) {
	var calls []int64
	pc := &progressCounter{total: 100, cb: func(done, total int64) { calls = append(calls, done) }}
	pc.add(70 << 10) // exceeds progressStep (64 KiB)
	if len(calls) != 1 {
		t.Fatalf("expected one callback after exceeding progressStep, got %d", len(calls))
	}
}

func TestTargetFileDirAndName(t *testing.T) {
	if got := targetFileDir("/a/b/c.bin"); got != "/a/b" {
		t.Errorf("targetFileDir = %q, want %q", got, "/a/b")
	}
	if got := targetFileName("/a/b/c.bin"); got != "c.bin" {
		t.Errorf("targetFileName = %q, want %q", got, "c.bin")
	}
	if got := targetFileDir("noslash"); got != "." {
		t.Errorf("targetFileDir(no slash) = %q, want %q", got, ".")
	}
}
