package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/meetscribe/internal/models"
	"github.com/yoockh/meetscribe/internal/storage"
)

// Connector builds a fresh connection to the remote storage backend.
type Connector func(ctx context.Context) (storage.Uploader, error)

// Options is the gateway's configuration surface.
type Options struct {
	Cooldown       time.Duration // quota cooldown window
	MaxAttempts    int           // bounded attempts per upload
	BatchSize      int           // max items per batch
	BatchPause     time.Duration // pause between batches
	ErrorThreshold int           // consecutive errors before a forced handle refresh
	BackupDir      string        // local durable fallback location
}

func (o *Options) fill() {
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 3
	}
	if o.BatchPause < 0 {
		o.BatchPause = 0
	}
	if o.ErrorThreshold <= 0 {
		o.ErrorThreshold = 10
	}
}

// Result is the outcome of one artifact delivery.
type Result struct {
	State     models.DeliveryState
	RemoteRef string
	LocalRef  string
	Reason    string
}

// handle is the process-wide cached connection. It is replaced whole, never
// mutated: in-flight uploads finish on the handle they captured at call start,
// and the dropped client is left to the garbage collector.
type handle struct {
	uploader   storage.Uploader
	generation uint64
	createdAt  time.Time
	uses       int64
}

// Gateway owns the cached remote connection and delivers artifacts with
// quota-aware cooldown, bounded retry, batching, and local fallback.
type Gateway struct {
	connect Connector
	opts    Options
	log     *logrus.Entry

	// Now and Sleep are the clock sources; tests substitute fakes.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)

	mu            sync.Mutex
	h             *handle
	gen           uint64
	cooldownUntil time.Time
	errorCount    int
}

func New(connect Connector, opts Options, log *logrus.Entry) *Gateway {
	opts.fill()
	return &Gateway{
		connect: connect,
		opts:    opts,
		log:     log,
		Now:     time.Now,
		Sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Upload delivers one artifact. The outcome is always one of Delivered,
// LocallyPreserved, or Failed; transport problems never surface as errors.
func (g *Gateway) Upload(ctx context.Context, art *models.Artifact) Result {
	log := g.log.WithFields(logrus.Fields{
		"artifact_id": art.ArtifactID,
		"kind":        art.Kind,
		"name":        art.Name,
	})

	if proceed, res := g.checkCooldown(art, log); !proceed {
		return res
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 0

	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		h, err := g.acquire(ctx)
		if err != nil {
			log.WithError(err).Warn("connecting to storage backend failed")
			if attempt == g.opts.MaxAttempts {
				return g.preserve(art, "connection setup exhausted retries", log)
			}
			g.Sleep(ctx, bo.NextBackOff())
			continue
		}

		remoteRef, err := g.uploadOnce(ctx, h, art)
		if err == nil {
			g.noteSuccess()
			art.State = models.DeliveryDelivered
			art.RemoteRef = remoteRef
			log.WithField("remote_ref", remoteRef).Info("artifact delivered")
			return Result{State: models.DeliveryDelivered, RemoteRef: remoteRef}
		}

		class := Classify(err)
		refresh := g.noteError()
		log.WithError(err).WithFields(logrus.Fields{
			"class":   class.String(),
			"attempt": attempt,
		}).Warn("upload attempt failed")

		switch class {
		case ClassQuota:
			g.enterCooldown()
			return g.preserve(art, "quota exceeded", log)
		case ClassPermanent:
			localRef, _ := g.retainLocally(art)
			art.State = models.DeliveryFailed
			return Result{State: models.DeliveryFailed, Reason: err.Error(), LocalRef: localRef}
		default: // transient
			if refresh {
				g.invalidate("error threshold reached")
			}
			if attempt == g.opts.MaxAttempts {
				return g.preserve(art, "transient errors exhausted retries", log)
			}
			g.Sleep(ctx, bo.NextBackOff())
		}
	}

	// unreachable; the loop always returns
	return g.preserve(art, "upload loop exited", log)
}

// UploadBatch delivers artifacts in bounded batches with a pause between
// batches. A failing item never fails the batch: outcomes are per item.
func (g *Gateway) UploadBatch(ctx context.Context, arts []*models.Artifact) []Result {
	results := make([]Result, 0, len(arts))
	for i := 0; i < len(arts); i += g.opts.BatchSize {
		if i > 0 && g.opts.BatchPause > 0 {
			g.Sleep(ctx, g.opts.BatchPause)
		}
		end := i + g.opts.BatchSize
		if end > len(arts) {
			end = len(arts)
		}
		for _, art := range arts[i:end] {
			results = append(results, g.Upload(ctx, art))
		}
	}
	return results
}

// checkCooldown short-circuits uploads inside the quota cooldown window and
// forces a fresh handle on the first upload after expiry.
func (g *Gateway) checkCooldown(art *models.Artifact, log *logrus.Entry) (bool, Result) {
	g.mu.Lock()
	if g.cooldownUntil.IsZero() {
		g.mu.Unlock()
		return true, Result{}
	}
	now := g.Now()
	if now.Before(g.cooldownUntil) {
		remaining := g.cooldownUntil.Sub(now)
		g.mu.Unlock()
		log.WithField("remaining", remaining.String()).Info("quota cooldown active; preserving locally")
		return false, g.preserve(art, "quota cooldown active", log)
	}
	// Cooldown over: stale handles never outlive a cooldown.
	g.cooldownUntil = time.Time{}
	g.h = nil
	g.errorCount = 0
	g.mu.Unlock()
	log.Info("quota cooldown expired; connection will be recreated")
	return true, Result{}
}

func (g *Gateway) uploadOnce(ctx context.Context, h *handle, art *models.Artifact) (string, error) {
	r, closer, err := artifactReader(art)
	if err != nil {
		return "", err
	}
	if closer != nil {
		defer closer.Close()
	}
	return h.uploader.Upload(ctx, art.Name, art.ContentType, r)
}

func artifactReader(art *models.Artifact) (io.Reader, io.Closer, error) {
	if len(art.Payload) > 0 {
		return bytes.NewReader(art.Payload), nil, nil
	}
	f, err := os.Open(art.LocalPath)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// acquire returns the cached handle, creating it lazily.
func (g *Gateway) acquire(ctx context.Context) (*handle, error) {
	g.mu.Lock()
	if g.h != nil {
		g.h.uses++
		h := g.h
		g.mu.Unlock()
		return h, nil
	}
	g.mu.Unlock()

	uploader, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.h != nil {
		// lost the race; use the winner's handle
		g.h.uses++
		return g.h, nil
	}
	g.gen++
	g.h = &handle{
		uploader:   uploader,
		generation: g.gen,
		createdAt:  g.Now(),
		uses:       1,
	}
	g.log.WithField("generation", g.gen).Info("storage connection created")
	return g.h, nil
}

func (g *Gateway) enterCooldown() {
	g.mu.Lock()
	g.cooldownUntil = g.Now().Add(g.opts.Cooldown)
	g.h = nil
	g.mu.Unlock()
	g.log.WithField("cooldown", g.opts.Cooldown.String()).Warn("quota exceeded; entering cooldown")
}

func (g *Gateway) noteSuccess() {
	g.mu.Lock()
	g.errorCount = 0
	g.mu.Unlock()
}

// noteError reports whether the consecutive error count crossed the refresh
// threshold.
func (g *Gateway) noteError() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errorCount++
	return g.errorCount >= g.opts.ErrorThreshold
}

// invalidate drops the cached handle so the next acquire rebuilds it. Used by
// the resource monitor's periodic reset and by the error threshold.
func (g *Gateway) invalidate(reason string) {
	g.mu.Lock()
	g.h = nil
	g.errorCount = 0
	g.mu.Unlock()
	g.log.WithField("reason", reason).Info("storage connection invalidated")
}

// Reset forces invalidation regardless of cooldown state.
func (g *Gateway) Reset() { g.invalidate("periodic reset") }

// Generation returns the current handle generation, zero when no handle is
// cached.
func (g *Gateway) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.h == nil {
		return 0
	}
	return g.h.generation
}

// preserve writes the artifact to the local backup location and reports
// LocallyPreserved. Preservation is the safety net: only a failure to write
// locally degrades to Failed.
func (g *Gateway) preserve(art *models.Artifact, reason string, log *logrus.Entry) Result {
	localRef, err := g.retainLocally(art)
	if err != nil {
		log.WithError(err).Error("local preservation failed")
		art.State = models.DeliveryFailed
		return Result{State: models.DeliveryFailed, Reason: fmt.Sprintf("%s; local preservation failed: %v", reason, err)}
	}
	art.State = models.DeliveryLocallyPreserved
	art.LocalPath = localRef
	log.WithFields(logrus.Fields{"path": localRef, "reason": reason}).Info("artifact preserved locally")
	return Result{State: models.DeliveryLocallyPreserved, LocalRef: localRef, Reason: reason}
}

// retainLocally copies the artifact payload under the backup dir, keyed by
// artifact identity so it survives restarts until delivered or purged.
func (g *Gateway) retainLocally(art *models.Artifact) (string, error) {
	if err := os.MkdirAll(g.opts.BackupDir, 0o750); err != nil {
		return "", err
	}
	dst := filepath.Join(g.opts.BackupDir, fmt.Sprintf("%s__%s", art.ArtifactID, filepath.Base(art.Name)))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil // already preserved
	}

	r, closer, err := artifactReader(art)
	if err != nil {
		return "", err
	}
	if closer != nil {
		defer closer.Close()
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

// RedeliverPending sweeps the backup dir and retries every preserved artifact.
// Delivered files are removed; the rest stay for the next sweep.
func (g *Gateway) RedeliverPending(ctx context.Context) (delivered, remaining int) {
	entries, err := os.ReadDir(g.opts.BackupDir)
	if err != nil {
		if !os.IsNotExist(err) {
			g.log.WithError(err).Warn("cannot read backup dir")
		}
		return 0, 0
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(g.opts.BackupDir, e.Name())
		id, name := splitBackupName(e.Name())
		art := &models.Artifact{
			ArtifactID:  id,
			Name:        name,
			ContentType: "application/octet-stream",
			LocalPath:   path,
			State:       models.DeliveryPending,
		}
		res := g.Upload(ctx, art)
		if res.State == models.DeliveryDelivered {
			if err := os.Remove(path); err != nil {
				g.log.WithError(err).WithField("path", path).Warn("delivered but could not remove backup file")
			}
			delivered++
		} else {
			remaining++
		}
	}
	if delivered > 0 || remaining > 0 {
		g.log.WithFields(logrus.Fields{"delivered": delivered, "remaining": remaining}).Info("redelivery sweep finished")
	}
	return delivered, remaining
}

// splitBackupName recovers artifact identity and object name from a backup
// file name (artifactID__name). Artifact ids are uuids and never contain the
// separator, so the first occurrence splits. Recovering the id keeps a failed
// redelivery keyed to the same backup file instead of re-preserving it under
// a longer name.
func splitBackupName(fileName string) (id, name string) {
	if i := strings.Index(fileName, "__"); i >= 0 {
		return fileName[:i], fileName[i+2:]
	}
	return fileName, fileName
}
