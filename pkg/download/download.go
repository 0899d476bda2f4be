// Package download implements the Downloader from spec.md §4.3:
// parallel ranged HTTP download with resume, digest verification, and
// an aria2c fast-path.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/digest"
)

const (
	defaultChunkSize    = 8 << 20  // 8 MiB
	defaultMinSplitSize = 16 << 20 // 16 MiB
	defaultConcurrency  = 16
	chunkIdleTimeout    = 60 * time.Second
	progressStep        = 64 << 10 // 64 KiB
)

// Progress is invoked at most once per progressStep bytes of forward
// progress, per spec.md §4.3.
type Progress func(completed, total int64)

type Options struct {
	ChunkSize    int64
	MinSplitSize int64
	Concurrency  int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.MinSplitSize <= 0 {
		o.MinSplitSize = defaultMinSplitSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	return o
}

type Downloader struct {
	client *http.Client
	opts   Options
}

func New(opts Options) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: 0}, // per-request/per-chunk timeouts set via context
		opts:   opts.withDefaults(),
	}
}

// head captures Content-Length and Accept-Ranges support.
func (d *Downloader) head(ctx context.Context, url string) (size int64, rangesOK bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false, apperror.Transport("HEAD request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, false, apperror.Transport(fmt.Sprintf("HEAD returned %d", resp.StatusCode), nil)
	}
	return resp.ContentLength, resp.Header.Get("Accept-Ranges") == "bytes", nil
}

// hasAria2c reports whether an external multi-connection downloader is
// on PATH, the feature-detection step from spec.md §4.3 step 2 and
// Design Notes' "aria2c fast-path".
func hasAria2c() bool {
	_, err := exec.LookPath("aria2c")
	return err == nil
}

// Download fetches url into targetPath, verifying against wantDigest
// when non-empty. targetPath's directory must already exist; the file
// itself may already exist partially (resume).
func (d *Downloader) Download(ctx context.Context, url, targetPath string, expectedSize int64, wantDigest digest.Digest, progress Progress) error {
	size, rangesOK, err := d.head(ctx, url)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = expectedSize
	}

	var existing int64
	if fi, statErr := os.Stat(targetPath); statErr == nil {
		existing = fi.Size()
	}

	switch {
	case hasAria2c() && rangesOK:
		if err := d.downloadAria2c(ctx, url, targetPath); err != nil {
			return err
		}
	case rangesOK && size >= d.opts.MinSplitSize:
		if err := d.downloadChunked(ctx, url, targetPath, size, existing, progress); err != nil {
			return err
		}
	default:
		if err := d.downloadSequential(ctx, url, targetPath, size, existing, progress); err != nil {
			return err
		}
	}

	if wantDigest != "" {
		ok, err := verifyFile(targetPath, wantDigest)
		if err != nil {
			return err
		}
		if !ok {
			os.Remove(targetPath)
			return apperror.DigestMismatch(fmt.Sprintf("downloaded file does not match %s", wantDigest))
		}
	}

	if fi, err := os.Stat(targetPath); err == nil && size > 0 && fi.Size() < size {
		return apperror.Incomplete(fmt.Sprintf("got %d of %d bytes", fi.Size(), size))
	}

	return nil
}

func verifyFile(path string, want digest.Digest) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("download: open for verify: %w", err)
	}
	defer f.Close()
	return digest.Verify(f, want)
}

// downloadAria2c delegates to the external tool: single file, same
// filename, default parallel connections (spec.md §4.3 step 2).
func (d *Downloader) downloadAria2c(ctx context.Context, url, targetPath string) error {
	dir := targetFileDir(targetPath)
	name := targetFileName(targetPath)
	cmd := exec.CommandContext(ctx, "aria2c",
		"--dir", dir,
		"--out", name,
		"--split", fmt.Sprintf("%d", d.opts.Concurrency),
		"--max-connection-per-server", fmt.Sprintf("%d", d.opts.Concurrency),
		"--continue=true",
		"--allow-overwrite=false",
		url,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return apperror.Transport(fmt.Sprintf("aria2c failed: %s", out), err)
	}
	return nil
}

// downloadChunked splits [existing, size) into equal ranges and fetches
// them in parallel, each writing at its absolute offset into a
// pre-sized file (spec.md §4.3 step 3).
func (d *Downloader) downloadChunked(ctx context.Context, url, targetPath string, size, existing int64, progress Progress) error {
	f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("download: open target: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("download: pre-size target: %w", err)
	}

	type chunk struct{ start, end int64 } // end exclusive
	var chunks []chunk
	for off := existing; off < size; off += d.opts.ChunkSize {
		end := off + d.opts.ChunkSize
		if end > size {
			end = size
		}
		chunks = append(chunks, chunk{off, end})
	}
	if len(chunks) == 0 {
		return nil
	}

	concurrency := d.opts.Concurrency
	if concurrency > len(chunks) {
		concurrency = len(chunks)
	}

	var completed progressCounter
	completed.total = size
	completed.done = existing
	completed.cb = progress

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, c := range chunks {
		c := c
		g.Go(func() error {
			return d.fetchRange(gctx, url, f, c.start, c.end, &completed)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (d *Downloader) fetchRange(ctx context.Context, url string, f *os.File, start, end int64, completed *progressCounter) error {
	ctx, cancel := context.WithTimeout(ctx, chunkIdleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := d.client.Do(req)
	if err != nil {
		return apperror.Transport("range request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return apperror.Transport(fmt.Sprintf("range request returned %d", resp.StatusCode), nil)
	}

	w := io.NewOffsetWriter(f, start)
	n, err := io.Copy(&countingWriter{w: w, completed: completed}, resp.Body)
	if err != nil {
		return apperror.Transport("range body copy failed", err)
	}
	if n != end-start {
		return apperror.Incomplete(fmt.Sprintf("got %d bytes, wanted %d", n, end-start))
	}
	return nil
}

func (d *Downloader) downloadSequential(ctx context.Context, url, targetPath string, size, existing int64, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return apperror.Transport("sequential GET failed", err)
	}
	defer resp.Body.Close()
	if existing > 0 && resp.StatusCode != http.StatusPartialContent {
		// Server ignored the Range request; restart from scratch.
		existing = 0
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	f, err := os.OpenFile(targetPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("download: open target: %w", err)
	}
	defer f.Close()

	completed := &progressCounter{total: size, done: existing, cb: progress}
	n, err := io.Copy(&countingWriter{w: f, completed: completed}, resp.Body)
	if err != nil {
		return apperror.Transport("sequential body copy failed", err)
	}
	if size > 0 && existing+n < size {
		return apperror.Incomplete(fmt.Sprintf("got %d of %d bytes", existing+n, size))
	}
	return nil
}

// progressCounter accumulates bytes copied and invokes cb at most once
// per progressStep bytes of forward progress (spec.md §4.3). Chunked
// downloads write to it from multiple goroutines concurrently, so
// updates are serialized behind a mutex.
type progressCounter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	sinceEmit int64
	cb        Progress
}

func (p *progressCounter) add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += n
	p.sinceEmit += n
	if p.cb == nil {
		return
	}
	if p.sinceEmit >= progressStep || p.done >= p.total {
		p.cb(p.done, p.total)
		p.sinceEmit = 0
	}
}

// countingWriter wraps an io.Writer, feeding every write through a
// shared progressCounter so parallel chunk writers report combined
// progress.
type countingWriter struct {
	w         io.Writer
	completed *progressCounter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.completed.add(int64(n))
	}
	return n, err
}

func targetFileDir(path string) string {
	i := lastSlash(path)
	if i < 0 {
		return "."
	}
	return path[:i]
}

func targetFileName(path string) string {
	i := lastSlash(path)
	if i < 0 {
		return path
	}
	return path[i+1:]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
