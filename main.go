// Command modelhostd runs the local model-serving daemon: content
// addressed blob/manifest stores, a registry client and downloader for
// `pull`, a bounded scheduler of loaded models, and the HTTP surface
// described in spec.md §4.10. Construction follows the teacher's
// main.go: each service is built in dependency order, optional ambient
// services (Postgres index, Redis queue, S3 mirror, webhook) degrade
// to a disabled no-op rather than aborting startup, and the process
// exits 1 only on a listener bind failure, an unrecoverable
// model-store error at startup (spec.md §6), a listener error while
// serving, or a failed graceful shutdown.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelhost/modelhost/pkg/blobstore"
	"github.com/modelhost/modelhost/pkg/config"
	"github.com/modelhost/modelhost/pkg/download"
	"github.com/modelhost/modelhost/pkg/httpapi"
	"github.com/modelhost/modelhost/pkg/index"
	"github.com/modelhost/modelhost/pkg/manifeststore"
	"github.com/modelhost/modelhost/pkg/modelstore"
	"github.com/modelhost/modelhost/pkg/policy"
	"github.com/modelhost/modelhost/pkg/queue"
	"github.com/modelhost/modelhost/pkg/registryclient"
	"github.com/modelhost/modelhost/pkg/scheduler"
	"github.com/modelhost/modelhost/pkg/storage"
	"github.com/modelhost/modelhost/pkg/webhook"
)

func main() {
	cfg := config.Load()
	log.Printf("starting modelhostd on %s (models root %s)", cfg.Host, cfg.ModelsRoot)

	blobs, err := blobstore.New(cfg.ModelsRoot)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	manifests, err := manifeststore.New(cfg.ModelsRoot)
	if err != nil {
		log.Fatalf("manifest store: %v", err)
	}

	idx, err := index.Connect(cfg)
	if err != nil {
		log.Printf("warning: postgres index unavailable: %v. falling back to directory scans.", err)
		idx = nil
	}

	registry := registryclient.New()
	dl := download.New(download.Options{
		ChunkSize:    cfg.DownloadChunk,
		MinSplitSize: cfg.DownloadMinSplit,
		Concurrency:  cfg.PullConcurrency,
	})

	pol := policy.New()
	pol.SetAllowlist(cfg.PolicyAllowedRegistries)

	q, err := queue.New(cfg)
	if err != nil {
		log.Printf("warning: redis queue unavailable: %v. pulls will run synchronously.", err)
		q = nil
	}

	// storage.NewS3Driver returns a nil *S3Driver with a nil error when
	// no S3 endpoint is configured. Assigning that nil pointer straight
	// into the storage.Driver interface would make the interface itself
	// non-nil, breaking every "no mirror configured" check downstream.
	s3, err := storage.NewS3Driver(cfg)
	if err != nil {
		log.Printf("warning: s3 mirror unavailable: %v. pushes will not replicate off-box.", err)
		s3 = nil
	}
	var mirror storage.Driver
	if s3 != nil {
		mirror = s3
	}

	wh := webhook.New(cfg.WebhookURL)

	store := modelstore.New(cfg, blobs, manifests, registry, dl, idx, pol, mirror, wh)

	sched := scheduler.New(cfg.MaxLoadedModels, cfg.DefaultKeepAlive, func(weightsPath string) int64 {
		fi, err := os.Stat(weightsPath)
		if err != nil {
			return 0
		}
		return fi.Size()
	})
	defer sched.StopAll()

	stopSweep := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sched.Sweep()
			case <-stopSweep:
				return
			}
		}
	}()
	defer close(stopSweep)

	if q.Enabled() {
		go runPullWorker(context.Background(), q, store)
	}

	srv := httpapi.New(cfg, store, sched, q)

	listener, err := net.Listen("tcp", cfg.Host)
	if err != nil {
		log.Fatalf("failed to bind %s: %v", cfg.Host, err)
	}

	httpSrv := &http.Server{Handler: srv.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(listener)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("listener error: %v", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			os.Exit(1)
		}
	}
}

// runPullWorker drains queued async pulls (SPEC_FULL.md §11), mirroring
// the teacher's background Scan Worker goroutine in main.go: dequeue,
// run, log, loop, backing off on queue errors.
func runPullWorker(ctx context.Context, q *queue.Service, store *modelstore.Store) {
	log.Println("starting pull worker")
	for {
		job, err := q.DequeuePull(ctx)
		if err != nil {
			log.Printf("pull worker: dequeue error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		log.Printf("pull worker: processing %s (job %s)", job.Name, job.ID)
		err = store.Pull(ctx, job.Name, func(p modelstore.PullProgress) {
			log.Printf("pull worker: %s: %s (%d/%d)", job.Name, p.Status, p.Completed, p.Total)
		})
		if err != nil {
			log.Printf("pull worker: %s failed: %v", job.Name, err)
			continue
		}
		log.Printf("pull worker: %s complete", job.Name)
	}
}
