// Package modelstore composes the Blob Store, Manifest Store, Registry
// Client, and Downloader into the Model Store from spec.md §4.5: the
// list/get/weights_path/pull/push/copy/delete/create surface the HTTP
// layer calls.
package modelstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/blobstore"
	"github.com/modelhost/modelhost/pkg/config"
	"github.com/modelhost/modelhost/pkg/digest"
	"github.com/modelhost/modelhost/pkg/download"
	"github.com/modelhost/modelhost/pkg/gguf"
	"github.com/modelhost/modelhost/pkg/index"
	"github.com/modelhost/modelhost/pkg/manifeststore"
	"github.com/modelhost/modelhost/pkg/modelref"
	"github.com/modelhost/modelhost/pkg/policy"
	"github.com/modelhost/modelhost/pkg/registryclient"
	"github.com/modelhost/modelhost/pkg/storage"
	"github.com/modelhost/modelhost/pkg/webhook"
)

type Store struct {
	cfg *config.Config

	blobs     *blobstore.Store
	manifests *manifeststore.Store
	registry  *registryclient.Client
	dl        *download.Downloader

	idx     *index.Index     // optional
	policy  *policy.Service  // optional, nil disables gating
	mirror  storage.Driver   // optional, nil disables push mirroring
	webhook *webhook.Service // optional, nil disables notifications
}

func New(cfg *config.Config, blobs *blobstore.Store, manifests *manifeststore.Store, registry *registryclient.Client, dl *download.Downloader, idx *index.Index, pol *policy.Service, mirror storage.Driver, wh *webhook.Service) *Store {
	return &Store{
		cfg:       cfg,
		blobs:     blobs,
		manifests: manifests,
		registry:  registry,
		dl:        dl,
		idx:       idx,
		policy:    pol,
		mirror:    mirror,
		webhook:   wh,
	}
}

func (s *Store) resolve(name string) modelref.Ref {
	return modelref.Parse(name, s.cfg.DefaultRegistry)
}

// BlobStat and CreateBlob expose the Blob Store directly for the HTTP
// layer's HEAD/POST /api/blobs/:digest routes (spec.md §4.10), which
// operate on blobs independent of any manifest.
func (s *Store) BlobStat(d digest.Digest) (int64, bool) {
	return s.blobs.Stat(d)
}

func (s *Store) CreateBlob(d digest.Digest, r io.Reader) error {
	return s.blobs.Create(d, r)
}

// List returns every reachable manifest summarized to a Model record,
// de-duplicated on (name, tag) with the official layout winning over
// legacy (spec.md §4.5). It prefers the Postgres index when available
// and falls back to a directory walk on any index error.
func (s *Store) List(ctx context.Context) ([]Model, error) {
	if s.idx != nil {
		if rows, err := s.idx.List(ctx); err == nil {
			out := make([]Model, 0, len(rows))
			for _, r := range rows {
				out = append(out, Model{
					Name:       r.Namespace + "/" + r.Name,
					Tag:        r.Tag,
					Digest:     r.Digest,
					TotalSize:  r.TotalSize,
					ModifiedAt: r.ModifiedAt,
					Family:     "llama",
				})
			}
			return out, nil
		}
		log.Printf("[modelstore] index list failed, falling back to directory walk")
	}

	entries, err := s.manifests.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	out := make([]Model, 0, len(entries))
	for _, e := range entries {
		key := e.Ref.ShortName() + ":" + e.Ref.Tag
		if seen[key] {
			continue
		}
		seen[key] = true

		m, err := s.manifests.Load(e.Ref)
		if err != nil {
			continue
		}
		modTime, _ := s.manifests.ModifiedAt(e.Ref)
		out = append(out, s.toRecord(e.Ref, m, modTime, false))
	}
	return out, nil
}

// Get resolves name, loads its manifest, and derives a Model record
// with system/template/license layers read in eagerly.
func (s *Store) Get(ctx context.Context, name string) (*Model, error) {
	ref := s.resolve(name)
	m, err := s.manifests.Load(ref)
	if err != nil {
		return nil, err
	}
	modTime, err := s.manifests.ModifiedAt(ref)
	if err != nil {
		return nil, err
	}
	rec := s.toRecord(ref, m, modTime, true)
	return &rec, nil
}

func (s *Store) toRecord(ref modelref.Ref, m *manifeststore.Manifest, modTime time.Time, readText bool) Model {
	rec := Model{
		Name:       ref.ShortName(),
		Tag:        ref.Tag,
		Digest:     string(m.Config.Digest),
		TotalSize:  m.TotalSize(),
		ModifiedAt: modTime,
		Family:     "llama",
	}

	if wp, ok := s.weightsLayer(m); ok {
		if path, err := s.blobs.Path(wp.Digest); err == nil {
			if f, err := os.Open(path); err == nil {
				if gf, err := gguf.Parse(f); err == nil {
					if arch := gf.Architecture(); arch != "" {
						rec.Family = arch
					}
				}
				f.Close()
			}
		}
	}

	if !readText {
		return rec
	}
	if l, ok := m.LayerOfType(manifeststore.MediaTypeSystem); ok {
		rec.System = s.readTextLayer(l)
	}
	if l, ok := m.LayerOfType(manifeststore.MediaTypeTemplate); ok {
		rec.Template = s.readTextLayer(l)
	}
	if l, ok := m.LayerOfType(manifeststore.MediaTypeLicense); ok {
		rec.License = s.readTextLayer(l)
	}
	return rec
}

func (s *Store) readTextLayer(l manifeststore.Layer) string {
	r, err := s.blobs.Open(l.Digest)
	if err != nil {
		return ""
	}
	defer r.Close()
	b, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return ""
	}
	return string(b)
}

// weightsLayer finds the layer carrying model weights: the layer typed
// image.model, else any layer whose blob starts with "GGUF"
// (spec.md §4.5).
func (s *Store) weightsLayer(m *manifeststore.Manifest) (manifeststore.Layer, bool) {
	if l, ok := m.LayerOfType(manifeststore.MediaTypeModel); ok {
		return l, true
	}
	for _, l := range m.Layers {
		path, err := s.blobs.Path(l.Digest)
		if err != nil {
			continue
		}
		if hasGGUFMagic(path) {
			return l, true
		}
	}
	return manifeststore.Layer{}, false
}

func hasGGUFMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var buf [4]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return false
	}
	return string(buf[:]) == "GGUF"
}

// WeightsPath resolves name and returns the on-disk path of its weights
// blob, or WeightsMissing if the manifest resolves but no such layer's
// blob exists.
func (s *Store) WeightsPath(ctx context.Context, name string) (string, error) {
	ref := s.resolve(name)
	m, err := s.manifests.Load(ref)
	if err != nil {
		return "", err
	}
	l, ok := s.weightsLayer(m)
	if !ok {
		return "", apperror.WeightsMissing(fmt.Sprintf("model %s has no resolvable weights layer", name))
	}
	path, err := s.blobs.Path(l.Digest)
	if err != nil {
		return "", apperror.WeightsMissing(fmt.Sprintf("weights blob %s for %s is missing", l.Digest, name))
	}
	return path, nil
}

// Pull fetches the manifest for name and downloads every layer blob
// that is missing or whose size differs from expected, writing the
// manifest atomically last so a partially downloaded model never
// appears resolved (spec.md §4.5). A transport error fetching the
// manifest is retried up to 3 times with exponential backoff capped
// at 30 s.
func (s *Store) Pull(ctx context.Context, name string, progress ProgressFunc) error {
	ref := s.resolve(name)
	emit := func(p PullProgress) {
		if progress != nil {
			progress(p)
		}
	}

	emit(PullProgress{Status: "pulling manifest"})
	m, err := s.registry.FetchManifest(ctx, ref)
	for attempt, backoff := 1, time.Second; err != nil && apperror.KindOf(err) == apperror.KindTransport && attempt <= 3; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		m, err = s.registry.FetchManifest(ctx, ref)
	}
	if err != nil {
		return err
	}

	if s.policy != nil {
		ok, violations, err := s.policy.Evaluate(ctx, policy.Input{
			Registry:     ref.Registry,
			Name:         ref.Name,
			Tag:          ref.Tag,
			SizeBytes:    m.TotalSize(),
			MaxSizeBytes: s.cfg.PolicyMaxModelBytes,
		})
		if err != nil {
			return fmt.Errorf("modelstore: policy evaluation: %w", err)
		}
		if !ok {
			return apperror.BadRequest(fmt.Sprintf("pull denied by policy: %s", strings.Join(violations, "; ")))
		}
	}

	layers := append([]manifeststore.Layer{m.Config}, m.Layers...)
	for _, l := range layers {
		if size, ok := s.blobs.Stat(l.Digest); ok && size == l.Size {
			emit(PullProgress{Status: "already have", Digest: string(l.Digest), Total: l.Size, Completed: l.Size, Percentage: 100})
			continue
		}

		emit(PullProgress{Status: "downloading", Digest: string(l.Digest), Total: l.Size})
		partial := s.blobs.PartialPath(l.Digest)
		if err := os.MkdirAll(filepath.Dir(partial), 0o755); err != nil {
			return fmt.Errorf("modelstore: mkdir blob dir: %w", err)
		}

		url := registryclient.BlobURL(ref, string(l.Digest))
		err := s.dl.Download(ctx, url, partial, l.Size, l.Digest, func(completed, total int64) {
			pct := 0.0
			if total > 0 {
				pct = 100 * float64(completed) / float64(total)
			}
			emit(PullProgress{Status: "downloading", Digest: string(l.Digest), Total: total, Completed: completed, Percentage: pct})
		})
		if err != nil {
			return err
		}
		if err := s.blobs.CommitPartial(l.Digest); err != nil {
			return err
		}
	}

	if err := s.manifests.Save(ref, m); err != nil {
		return fmt.Errorf("modelstore: save manifest: %w", err)
	}
	if s.idx != nil {
		modTime, _ := s.manifests.ModifiedAt(ref)
		s.idx.Upsert(ctx, index.Row{
			Registry: ref.Registry, Namespace: ref.Namespace, Name: ref.Name, Tag: ref.Tag,
			Digest: string(m.Config.Digest), TotalSize: m.TotalSize(), ModifiedAt: modTime,
		})
	}
	if s.webhook != nil {
		if err := s.webhook.Notify(ctx, webhook.Event{Action: "pull", Name: ref.ShortName(), Tag: ref.Tag, Digest: string(m.Config.Digest), Timestamp: time.Now()}); err != nil {
			log.Printf("[modelstore] webhook notify failed: %v", err)
		}
	}

	emit(PullProgress{Status: "success"})
	return nil
}

// Push is the symmetric, best-effort counterpart to Pull (spec.md
// §4.5): it mirrors every blob (config and layers) to the optional S3
// driver under "blobs/<digest>"; the manifest itself is not mirrored.
// Without a configured mirror, push is a no-op success (there
// is nowhere to push to).
func (s *Store) Push(ctx context.Context, name string, progress ProgressFunc) error {
	emit := func(p PullProgress) {
		if progress != nil {
			progress(p)
		}
	}
	if s.mirror == nil {
		emit(PullProgress{Status: "no push target configured, skipping"})
		return nil
	}

	ref := s.resolve(name)
	m, err := s.manifests.Load(ref)
	if err != nil {
		return err
	}

	layers := append([]manifeststore.Layer{m.Config}, m.Layers...)
	for _, l := range layers {
		emit(PullProgress{Status: "pushing", Digest: string(l.Digest), Total: l.Size})
		r, err := s.blobs.Open(l.Digest)
		if err != nil {
			return err
		}
		w, err := s.mirror.Writer(ctx, "blobs/"+string(l.Digest))
		if err != nil {
			r.Close()
			return fmt.Errorf("modelstore: open mirror writer: %w", err)
		}
		_, copyErr := io.Copy(w, r)
		r.Close()
		closeErr := w.Close()
		if copyErr != nil {
			return fmt.Errorf("modelstore: mirror blob %s: %w", l.Digest, copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("modelstore: finalize mirror blob %s: %w", l.Digest, closeErr)
		}
	}

	if s.webhook != nil {
		if err := s.webhook.Notify(ctx, webhook.Event{Action: "push", Name: ref.ShortName(), Tag: ref.Tag, Digest: string(m.Config.Digest), Timestamp: time.Now()}); err != nil {
			log.Printf("[modelstore] webhook notify failed: %v", err)
		}
	}
	emit(PullProgress{Status: "success"})
	return nil
}

// Copy verifies src's manifest exists, refuses if dst already exists,
// and writes a byte-identical manifest at dst's path; blobs are shared
// by digest, none are copied (spec.md §4.5).
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	srcRef := s.resolve(src)
	dstRef := s.resolve(dst)

	m, err := s.manifests.Load(srcRef)
	if err != nil {
		return err
	}
	if s.manifests.Exists(dstRef) {
		return apperror.Conflict(fmt.Sprintf("destination %s already exists", dst))
	}
	if err := s.manifests.Save(dstRef, m); err != nil {
		return fmt.Errorf("modelstore: save copy: %w", err)
	}
	if s.webhook != nil {
		if err := s.webhook.Notify(ctx, webhook.Event{Action: "copy", Name: dstRef.ShortName(), Tag: dstRef.Tag, Timestamp: time.Now()}); err != nil {
			log.Printf("[modelstore] webhook notify failed: %v", err)
		}
	}
	return nil
}

// Delete removes name's manifest and prunes every blob it uniquely
// referenced, in a single pass over all remaining manifests
// (spec.md §4.5).
func (s *Store) Delete(ctx context.Context, name string) error {
	ref := s.resolve(name)
	m, err := s.manifests.Load(ref)
	if err != nil {
		return err
	}

	if err := s.manifests.Delete(ref); err != nil {
		return err
	}

	remaining, err := s.manifests.List()
	if err != nil {
		return fmt.Errorf("modelstore: list for prune: %w", err)
	}
	referenced := make(map[digest.Digest]bool)
	for _, e := range remaining {
		rm, err := s.manifests.Load(e.Ref)
		if err != nil {
			continue
		}
		referenced[rm.Config.Digest] = true
		for _, l := range rm.Layers {
			referenced[l.Digest] = true
		}
	}

	candidates := append([]manifeststore.Layer{m.Config}, m.Layers...)
	for _, l := range candidates {
		if !referenced[l.Digest] {
			s.blobs.Remove(l.Digest)
		}
	}

	if s.idx != nil {
		s.idx.Delete(ctx, ref.Registry, ref.Namespace, ref.Name, ref.Tag)
	}
	if s.webhook != nil {
		if err := s.webhook.Notify(ctx, webhook.Event{Action: "delete", Name: ref.ShortName(), Tag: ref.Tag, Timestamp: time.Now()}); err != nil {
			log.Printf("[modelstore] webhook notify failed: %v", err)
		}
	}
	return nil
}
