// Package `updater` sequences one publication run: acquire a snapshot,
// prepare the package repository, decide whether the snapshot is news, and
// if so rewrite the manifest files and push a single commit.
package updater

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/oklog/ulid"
	"golang.org/x/sync/semaphore"

	"github.com/aursnapd/aursnapd/internal/artifactcache"
	"github.com/aursnapd/aursnapd/internal/aurpkg"
	"github.com/aursnapd/aursnapd/internal/gitsync"
	"github.com/aursnapd/aursnapd/internal/wayback"
)

type Logger interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
}

// `Acquirer` is the snapshot acquisition contract; see package `wayback`.
type Acquirer interface {
	Acquire(ctx context.Context, url string) (*wayback.Fingerprint, []byte, error)
}

// `Synchronizer` is the repository contract; see package `gitsync`.
type Synchronizer interface {
	Prepare(path string) (*gitsync.Repo, error)
	CommitAndPush(r *gitsync.Repo, message string) error
}

type Config struct {
	PkgName   string
	OriginURL string
	WorkDir   string
}

type Updater struct {
	lg       Logger
	cfg      *Config
	acquirer Acquirer
	sync     Synchronizer
	editor   *aurpkg.Editor
	// `cache` may be nil; artifact caching is best-effort.
	cache *artifactcache.Store
	// Runs are serialized with a semaphore of weight 1, so an interval
	// trigger can never overlap a slow run.  A semaphore instead of a
	// mutex, because acquisition must honor context cancelation.
	lock *semaphore.Weighted
}

func New(
	lg Logger,
	cfg *Config,
	acquirer Acquirer,
	sync Synchronizer,
	editor *aurpkg.Editor,
	cache *artifactcache.Store,
) *Updater {
	return &Updater{
		lg:       lg,
		cfg:      cfg,
		acquirer: acquirer,
		sync:     sync,
		editor:   editor,
		cache:    cache,
		lock:     semaphore.NewWeighted(1),
	}
}

// `Run()` executes one full pipeline run.  Any step failure aborts the
// run without partial publication; a rerun starts from scratch.
func (u *Updater) Run(ctx context.Context) error {
	if err := u.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer u.lock.Release(1)

	run := newRunId()
	u.lg.Infow(
		"Starting update run.",
		"run", run,
		"pkg", u.cfg.PkgName,
		"url", u.cfg.OriginURL,
	)

	fp, payload, err := u.acquirer.Acquire(ctx, u.cfg.OriginURL)
	if err != nil {
		return fmt.Errorf("snapshot acquisition failed: %w", err)
	}

	repo, err := u.sync.Prepare(u.cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("repository preparation failed: %w", err)
	}
	defer repo.Free()

	decision, reason := u.decide(fp)
	u.lg.Infow(
		"Decided.",
		"run", run,
		"decision", decision.String(),
		"reason", reason.String(),
		"version", fp.Version,
	)
	if decision == UpToDate {
		u.lg.Infow("Nothing to do; package is up to date.", "run", run)
		return nil
	}

	if err := u.writeManifest(reason, fp); err != nil {
		return fmt.Errorf("manifest update failed: %w", err)
	}

	message := fmt.Sprintf("Update to %s", fp.Version)
	if err := u.sync.CommitAndPush(repo, message); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	u.storeArtifact(run, fp, payload)

	u.lg.Infow(
		"Published update.",
		"run", run,
		"pkg", u.cfg.PkgName,
		"version", fp.Version,
	)
	return nil
}

func (u *Updater) pkgbuildPath() string {
	return filepath.Join(u.cfg.WorkDir, "PKGBUILD")
}

func (u *Updater) decide(fp *wayback.Fingerprint) (Decision, Reason) {
	file := u.pkgbuildPath()
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return Decide(nil, fp)
	}
	prev, err := u.editor.Read(file)
	if err != nil {
		u.lg.Warnw(
			"Could not read published manifest; "+
				"assuming update needed.",
			"err", err,
		)
		return NeedsUpdate, ReasonManifestUnreadable
	}
	return Decide(prev, fp)
}

func (u *Updater) writeManifest(
	reason Reason, fp *wayback.Fingerprint,
) error {
	file := u.pkgbuildPath()
	_, statErr := os.Stat(file)
	// An unreadable manifest cannot be patched field by field; it is
	// regenerated like a first publish.
	if os.IsNotExist(statErr) || reason == ReasonManifestUnreadable {
		if err := u.editor.WriteInitial(file, fp.Version, fp.Sha256); err != nil {
			return err
		}
	} else if err := u.editor.Update(file, fp.Version, fp.Sha256); err != nil {
		return err
	}

	srcinfo, err := u.editor.Srcinfo(fp.Version, fp.Sha256, fp.URL)
	if err != nil {
		return err
	}
	srcinfoPath := filepath.Join(u.cfg.WorkDir, ".SRCINFO")
	return ioutil.WriteFile(srcinfoPath, []byte(srcinfo), 0644)
}

func (u *Updater) storeArtifact(
	run string, fp *wayback.Fingerprint, payload []byte,
) {
	if u.cache == nil {
		return
	}
	if err := u.cache.Put(fp.Sha256, payload); err != nil {
		u.lg.Warnw(
			"Failed to cache artifact.",
			"run", run,
			"sha256", fp.Sha256,
			"err", err,
		)
		return
	}
	if err := u.cache.Prune(); err != nil {
		u.lg.Warnw("Failed to prune artifact cache.", "run", run, "err", err)
	}
}

func newRunId() string {
	id, err := ulid.New(ulid.Now(), crand.Reader)
	if err != nil {
		return "ulid-unavailable"
	}
	return id.String()
}
