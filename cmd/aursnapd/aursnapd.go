// vim: sw=8

// AUR snapshot update daemon `aursnapd`.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/aursnapd/aursnapd/internal/artifactcache"
	"github.com/aursnapd/aursnapd/internal/aurpkg"
	"github.com/aursnapd/aursnapd/internal/config"
	"github.com/aursnapd/aursnapd/internal/gitsync"
	"github.com/aursnapd/aursnapd/internal/updater"
	"github.com/aursnapd/aursnapd/internal/wayback"
	"github.com/aursnapd/aursnapd/pkg/mulog"
	"github.com/aursnapd/aursnapd/pkg/zap"
)

// `xVersion` and `xBuild` are injected by the `Makefile`.
var (
	xVersion string
	xBuild   string
	version  = fmt.Sprintf("aursnapd-%s+%s", xVersion, xBuild)
)

// `qqBackticks()` translates double single quote to backtick.
func qqBackticks(s string) string {
	return strings.Replace(s, "''", "`", -1)
}

var usage = qqBackticks(`Usage:
  aursnapd [options]

Options:
  --log=<logger>  [default: prod]
        Specify logger: prod, dev, or mu.
  --config=<file>
        Config file, YAML.  Deprecated HCL configs are still read.
  --pkg=<name>
        AUR package name; also names the remote repository.
  --url=<url>
        Upstream resource URL to archive and publish.
  --workdir=<dir>
        Local working copy of the AUR package repository.
  --ssh-key=<path>
        SSH private key for the AUR remote.  The public key is expected
        next to it with a ''.pub'' suffix.
  --cache-dir=<dir>
        Keep zstd-compressed copies of published artifacts here.
  --every=<interval>
        Keep running and start an update run at the given interval.
        Without ''--every'', a single run is performed and the process
        exits, which is the intended mode under cron or a systemd timer.
  --shutdown-timeout=<duration>  [default: 20m]
        Maximum time to wait for the active run before forced shutdown.

''aursnapd'' asks the Wayback Machine to capture the upstream resource,
falling back to the latest existing snapshot when the save endpoint fails
or rate-limits the request.  If the capture is newer than the version
recorded in the published PKGBUILD and its content differs, aursnapd
rewrites PKGBUILD and .SRCINFO, commits ''Update to <version>'', and pushes
master to the AUR over SSH.  Pull and push are fast-forward-only; diverged
histories abort the run instead of merging.

A run ends in one of three ways: a pushed update, an explicit nothing to
do, or a classified error with no partial state left on the remote.  Runs
are idempotent, so a failed run is simply retried on the next trigger.
`)

type Logger interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
	Fatalw(msg string, kv ...interface{})
}

var lg Logger = mulog.Logger{}

func main() {
	args := argparse()
	initLogging(args["--log"].(string))

	cfg := config.Default()
	if file, ok := args["--config"].(string); ok {
		if err := config.Load(lg, file, cfg); err != nil {
			lg.Fatalw("Failed to load --config.", "err", err)
		}
	}
	for flag, dst := range map[string]*string{
		"--pkg":       &cfg.PkgName,
		"--url":       &cfg.OriginURL,
		"--workdir":   &cfg.WorkDir,
		"--ssh-key":   &cfg.SSHKeyPath,
		"--cache-dir": &cfg.CacheDir,
	} {
		if a, ok := args[flag].(string); ok {
			*dst = a
		}
	}
	if err := cfg.ExpandPaths(); err != nil {
		lg.Fatalw("Failed to expand config paths.", "err", err)
	}
	if err := cfg.Validate(); err != nil {
		lg.Fatalw("Invalid configuration.", "err", err)
	}

	u := newUpdater(cfg)

	lg.Infow(
		"aursnapd started.",
		"pkg", cfg.PkgName,
		"url", cfg.OriginURL,
	)

	every, isDaemon := args["--every"].(time.Duration)
	if !isDaemon {
		runOnce(u)
		return
	}
	runEvery(u, every, args["--shutdown-timeout"].(time.Duration))
}

func newUpdater(cfg *config.Config) *updater.Updater {
	acquirer := wayback.NewClient(lg, &wayback.Config{
		DownloadBytesPerSecond: cfg.DownloadBytesPerSecond,
	})
	syncer := gitsync.New(lg, &gitsync.Config{
		RemoteURL:  cfg.RemoteURL(),
		SSHKeyPath: cfg.SSHKeyPath,
	})
	editor := aurpkg.NewEditor(aurpkg.Config{
		PkgName:    cfg.PkgName,
		OriginURL:  cfg.OriginURL,
		Maintainer: cfg.Maintainer,
		Desc:       cfg.PkgDesc,
		ProjectURL: cfg.ProjectURL,
		Depends:    cfg.Depends,
	})
	var cache *artifactcache.Store
	if cfg.CacheDir != "" {
		cache = artifactcache.New(lg, cfg.CacheDir, cfg.CacheKeep)
	}
	return updater.New(lg, &updater.Config{
		PkgName:   cfg.PkgName,
		OriginURL: cfg.OriginURL,
		WorkDir:   cfg.WorkDir,
	}, acquirer, syncer, editor, cache)
}

func runOnce(u *updater.Updater) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	signal.Notify(sigs, syscall.SIGINT)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := <-sigs
		lg.Warnw("Canceling run.", "sig", sig)
		cancel()
	}()

	if err := u.Run(ctx); err != nil {
		lg.Fatalw("Run failed.", "err", err)
	}
	lg.Infow("Completed run.")
}

func runEvery(u *updater.Updater, every, shutdownTimeout time.Duration) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	signal.Notify(sigs, syscall.SIGINT)
	var isShutdown int32

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	lg.Infow("Enabled regular update runs.", "every", every)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := u.Run(ctx); err != nil {
			logRunErr(err, &isShutdown)
		}
		tick := time.NewTicker(every)
		for {
			select {
			case <-ctx.Done():
				tick.Stop()
				return
			case <-tick.C:
				if err := u.Run(ctx); err != nil {
					logRunErr(err, &isShutdown)
				}
			}
		}
	}()

	sig := <-sigs
	atomic.StoreInt32(&isShutdown, 1)

	done := make(chan struct{})
	go func() {
		cancel()
		wg.Wait()
		close(done)
	}()

	timeout := time.NewTimer(shutdownTimeout)
	lg.Infow(
		"Started graceful shutdown.",
		"sig", sig,
		"timeout", shutdownTimeout,
	)

	select {
	case <-timeout.C:
		lg.Warnw("Timeout; forced shutdown.")
	case <-done:
		lg.Infow("Completed graceful shutdown.")
	}
}

func logRunErr(err error, isShutdown *int32) {
	if atomic.LoadInt32(isShutdown) != 0 {
		return
	}
	lg.Errorw("Run failed.", "err", err)
}

func initLogging(arg string) {
	var err error
	switch arg {
	case "prod":
		lg, err = zap.NewProduction()
	case "dev":
		lg, err = zap.NewDevelopment()
	case "mu":
		lg = mulog.Logger{}
	default:
		err = fmt.Errorf("Invalid --log option.")
	}
	if err != nil {
		log.Fatal(err)
	}
}

func argparse() map[string]interface{} {
	const autoHelp = true
	const noOptionFirst = false
	args, err := docopt.Parse(
		usage, nil, autoHelp, version, noOptionFirst,
	)
	if err != nil {
		lg.Fatalw("docopt failed", "err", err)
	}

	for _, k := range []string{
		"--shutdown-timeout",
		"--every",
	} {
		if arg, ok := args[k].(string); ok {
			d, err := time.ParseDuration(arg)
			if err != nil {
				lg.Fatalw(
					fmt.Sprintf("Invalid %s", k),
					"err", err,
				)
			}
			args[k] = d
		}
	}

	return args
}
