package modelstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/modelhost/modelhost/pkg/apperror"
	"github.com/modelhost/modelhost/pkg/digest"
	"github.com/modelhost/modelhost/pkg/manifeststore"
	"github.com/modelhost/modelhost/pkg/webhook"
)

// modelfile is the parsed directive set from spec.md §4.5's "tiny
// directive language": one directive per non-empty, non-'#' line,
// case-insensitive, whitespace-separated from its argument.
type modelfile struct {
	from     string
	system   string
	template string
	license  string
	adapter  string // reserved, see spec.md §9 open question: parsed-but-unused
	params   map[string]string
}

func parseModelfile(text string) (*modelfile, error) {
	mf := &modelfile{params: make(map[string]string)}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		directive := strings.ToUpper(fields[0])
		var arg string
		if len(fields) == 2 {
			arg = strings.TrimSpace(fields[1])
		}

		switch directive {
		case "FROM":
			mf.from = arg
		case "SYSTEM":
			mf.system = arg
		case "TEMPLATE":
			mf.template = arg
		case "LICENSE":
			mf.license = arg
		case "ADAPTER":
			mf.adapter = arg
		case "PARAMETER":
			kv := strings.SplitN(arg, " ", 2)
			if len(kv) != 2 {
				return nil, apperror.BadRequest(fmt.Sprintf("PARAMETER requires a key and a value: %q", line))
			}
			mf.params[kv[0]] = strings.TrimSpace(kv[1])
		default:
			mf.params[fields[0]] = arg
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("modelstore: scan modelfile: %w", err)
	}
	if mf.from == "" {
		return nil, apperror.BadRequest("modelfile has no FROM directive")
	}
	return mf, nil
}

// materializeBlob hashes text, commits it as a blob (a no-op if a blob
// with that digest already exists), and returns the layer describing
// it.
func (s *Store) materializeBlob(mediaType, text string) (manifeststore.Layer, error) {
	d := digest.FromBytes([]byte(text))
	if err := s.blobs.Create(d, strings.NewReader(text)); err != nil {
		return manifeststore.Layer{}, err
	}
	return manifeststore.Layer{MediaType: mediaType, Digest: d, Size: int64(len(text))}, nil
}

// Create builds a new manifest at name from a Modelfile: FROM names a
// base model that must already be resolved; SYSTEM/TEMPLATE/LICENSE
// each replace the corresponding layer on the base; PARAMETER entries
// and unrecognized directives accumulate into a single params blob.
// The base manifest is never modified (spec.md §4.5).
func (s *Store) Create(ctx context.Context, name, modelfileText string, progress ProgressFunc) error {
	emit := func(p PullProgress) {
		if progress != nil {
			progress(p)
		}
	}

	emit(PullProgress{Status: "parsing"})
	mf, err := parseModelfile(modelfileText)
	if err != nil {
		return err
	}

	emit(PullProgress{Status: fmt.Sprintf("using base %s", mf.from)})
	baseRef := s.resolve(mf.from)
	base, err := s.manifests.Load(baseRef)
	if err != nil {
		return apperror.BadRequest(fmt.Sprintf("base model %s is not resolved: %v", mf.from, err))
	}

	emit(PullProgress{Status: "processing layers"})
	result := &manifeststore.Manifest{SchemaVersion: base.SchemaVersion, MediaType: base.MediaType, Config: base.Config, Layers: append([]manifeststore.Layer{}, base.Layers...)}

	if mf.system != "" {
		l, err := s.materializeBlob(manifeststore.MediaTypeSystem, mf.system)
		if err != nil {
			return err
		}
		result = result.WithLayer(l)
	}
	if mf.template != "" {
		l, err := s.materializeBlob(manifeststore.MediaTypeTemplate, mf.template)
		if err != nil {
			return err
		}
		result = result.WithLayer(l)
	}
	if mf.license != "" {
		l, err := s.materializeBlob(manifeststore.MediaTypeLicense, mf.license)
		if err != nil {
			return err
		}
		result = result.WithLayer(l)
	}
	if len(mf.params) > 0 {
		b, err := json.Marshal(mf.params)
		if err != nil {
			return fmt.Errorf("modelstore: marshal params: %w", err)
		}
		l, err := s.materializeBlob(manifeststore.MediaTypeParams, string(b))
		if err != nil {
			return err
		}
		result = result.WithLayer(l)
	}

	dstRef := s.resolve(name)
	if err := s.manifests.Save(dstRef, result); err != nil {
		return fmt.Errorf("modelstore: save created manifest: %w", err)
	}

	if s.webhook != nil {
		if err := s.webhook.Notify(ctx, webhook.Event{Action: "create", Name: dstRef.ShortName(), Tag: dstRef.Tag, Digest: string(result.Config.Digest), Timestamp: time.Now()}); err != nil {
			log.Printf("[modelstore] webhook notify failed: %v", err)
		}
	}

	emit(PullProgress{Status: "success"})
	return nil
}
