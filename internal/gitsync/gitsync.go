// Package `gitsync` maintains the local working copy of the AUR package
// repository and publishes manifest changes.
//
// Both directions are fast-forward-only.  Pulling advances the local
// `master` only if the fetched tip is a descendant; pushing never forces.
// Divergence in either direction is reported as `ErrSyncConflict` instead
// of attempting a merge, so an unattended run can never produce a history
// that needs human adjudication.
package gitsync

import (
	"fmt"
	"os"
	"path/filepath"

	git "github.com/libgit2/git2go"
)

const branchRef = "refs/heads/master"

type Logger interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
}

type Config struct {
	// `RemoteURL` is the SSH remote, like
	// `ssh://aur@aur.archlinux.org/<pkg>.git`.
	RemoteURL string
	// `SSHKeyPath` is the private key used for fetch and push.  The
	// public key is expected next to it with a `.pub` suffix.
	SSHKeyPath string
}

type Sync struct {
	lg        Logger
	remoteURL string
	keyPath   string
}

// `Repo` is a handle to the working copy, owned by the synchronizer for
// the duration of one run.
type Repo struct {
	git *git.Repository
}

func (r *Repo) Free() {
	if r.git != nil {
		r.git.Free()
	}
}

func New(lg Logger, cfg *Config) *Sync {
	return &Sync{
		lg:        lg,
		remoteURL: cfg.RemoteURL,
		keyPath:   cfg.SSHKeyPath,
	}
}

func (s *Sync) credentialsCallback(
	url string, usernameFromURL string, allowedTypes git.CredType,
) (git.ErrorCode, *git.Cred) {
	username := usernameFromURL
	if username == "" {
		username = "aur"
	}
	ret, cred := git.NewCredSshKey(
		username, s.keyPath+".pub", s.keyPath, "",
	)
	return git.ErrorCode(ret), &cred
}

func certificateCheckCallback(
	cert *git.Certificate, valid bool, hostname string,
) git.ErrorCode {
	// libgit2 does not consult known_hosts; host identity is pinned by
	// the configured remote URL.
	return git.ErrOk
}

func (s *Sync) remoteCallbacks() git.RemoteCallbacks {
	return git.RemoteCallbacks{
		CredentialsCallback:      s.credentialsCallback,
		CertificateCheckCallback: certificateCheckCallback,
	}
}

func (s *Sync) fetchOptions() *git.FetchOptions {
	return &git.FetchOptions{RemoteCallbacks: s.remoteCallbacks()}
}

// `classifyTransportErr()` maps SSH-layer failures to `ErrAuthFailed`.
func classifyTransportErr(err error) error {
	if gitErr, ok := err.(*git.GitError); ok &&
		gitErr.Class == git.ErrClassSsh {
		return ErrAuthFailed
	}
	return err
}

// `Prepare()` ensures an up-to-date working copy at `path`: a fresh clone
// if none exists, otherwise fetch plus fast-forward.  Diverged histories
// fail with `ErrSyncConflict`; nothing beyond the fetch is applied.
func (s *Sync) Prepare(path string) (*Repo, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s.clone(path)
	}
	return s.update(path)
}

func (s *Sync) clone(path string) (*Repo, error) {
	s.lg.Infow(
		"Cloning package repository.",
		"remote", s.remoteURL,
		"path", path,
	)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	repo, err := git.Clone(s.remoteURL, path, &git.CloneOptions{
		FetchOptions: s.fetchOptions(),
	})
	if err != nil {
		if cerr := classifyTransportErr(err); cerr != err {
			return nil, cerr
		}
		return nil, fmt.Errorf(
			"failed to clone `%s`: %s", s.remoteURL, err,
		)
	}
	s.lg.Infow("Clone complete.", "path", path)
	return &Repo{git: repo}, nil
}

func (s *Sync) update(path string) (*Repo, error) {
	s.lg.Infow("Updating package repository.", "path", path)
	repo, err := git.OpenRepository(path)
	if err != nil {
		return nil, err
	}

	origin, err := repo.Remotes.Lookup("origin")
	if err != nil {
		repo.Free()
		return nil, err
	}
	err = origin.Fetch(nil, s.fetchOptions(), "")
	origin.Free()
	if err != nil {
		repo.Free()
		if cerr := classifyTransportErr(err); cerr != err {
			return nil, cerr
		}
		return nil, fmt.Errorf("fetch failed: %s", err)
	}

	if err := s.fastForward(repo); err != nil {
		repo.Free()
		return nil, err
	}
	return &Repo{git: repo}, nil
}

func (s *Sync) fastForward(repo *git.Repository) error {
	fetchHead, err := repo.References.Lookup("FETCH_HEAD")
	if err != nil {
		if git.IsErrorCode(err, git.ErrNotFound) {
			// Nothing was fetched; the remote is empty.
			s.lg.Infow("Remote has no branches yet.")
			return nil
		}
		return err
	}
	defer fetchHead.Free()

	fetched, err := repo.AnnotatedCommitFromRef(fetchHead)
	if err != nil {
		return err
	}
	defer fetched.Free()

	analysis, _, err := repo.MergeAnalysis(
		[]*git.AnnotatedCommit{fetched},
	)
	if err != nil {
		return err
	}
	switch {
	case analysis&git.MergeAnalysisUpToDate != 0:
		s.lg.Infow("Working copy is up to date.")
		return nil
	case analysis&git.MergeAnalysisUnborn != 0:
		// Local master does not exist yet; the checkout below
		// creates it from the fetched tip.
		fallthrough
	case analysis&git.MergeAnalysisFastForward != 0:
		return s.advance(repo, fetched.Id())
	default:
		return ErrSyncConflict
	}
}

func (s *Sync) advance(repo *git.Repository, target *git.Oid) error {
	master, err := repo.References.Lookup(branchRef)
	if err != nil {
		if !git.IsErrorCode(err, git.ErrNotFound) {
			return err
		}
		master, err = repo.References.Create(
			branchRef, target, false, "fast-forward",
		)
		if err != nil {
			return err
		}
	} else {
		newMaster, err := master.SetTarget(target, "fast-forward")
		master.Free()
		if err != nil {
			return err
		}
		master = newMaster
	}
	master.Free()

	if err := repo.SetHead(branchRef); err != nil {
		return err
	}
	err = repo.CheckoutHead(&git.CheckoutOpts{
		Strategy: git.CheckoutForce,
	})
	if err != nil {
		return err
	}
	s.lg.Infow("Fast-forwarded working copy.", "commit", target.String())
	return nil
}

// `CommitAndPush()` stages all changed paths, creates a single commit on
// `master` with the repository's configured signature, and pushes.  A
// rejected push is `ErrSyncConflict` and is not retried: a concurrent
// writer has already published, and the next run starts from scratch.
func (s *Sync) CommitAndPush(r *Repo, message string) error {
	repo := r.git

	index, err := repo.Index()
	if err != nil {
		return err
	}
	defer index.Free()
	err = index.AddAll([]string{"*"}, git.IndexAddDefault, nil)
	if err != nil {
		return err
	}
	if err := index.Write(); err != nil {
		return err
	}
	treeId, err := index.WriteTree()
	if err != nil {
		return err
	}
	tree, err := repo.LookupTree(treeId)
	if err != nil {
		return err
	}
	defer tree.Free()

	sig, err := repo.DefaultSignature()
	if err != nil {
		return fmt.Errorf("no committer signature configured: %s", err)
	}

	var parents []*git.Commit
	head, err := repo.Head()
	switch {
	case err == nil:
		parent, err := repo.LookupCommit(head.Target())
		head.Free()
		if err != nil {
			return err
		}
		defer parent.Free()
		parents = append(parents, parent)
	case git.IsErrorCode(err, git.ErrUnbornBranch):
		// First commit into an empty package repository.
	case git.IsErrorCode(err, git.ErrNotFound):
		// Same, on a repository without any refs.
	default:
		return err
	}

	commitId, err := repo.CreateCommit(
		"HEAD", sig, sig, message, tree, parents...,
	)
	if err != nil {
		return err
	}
	s.lg.Infow(
		"Created commit.",
		"commit", commitId.String(),
		"message", message,
	)

	return s.push(repo)
}

func (s *Sync) push(repo *git.Repository) error {
	origin, err := repo.Remotes.Lookup("origin")
	if err != nil {
		return err
	}
	defer origin.Free()

	var rejected string
	callbacks := s.remoteCallbacks()
	callbacks.PushUpdateReferenceCallback = func(
		refname, status string,
	) git.ErrorCode {
		if status != "" {
			rejected = status
		}
		return git.ErrOk
	}

	refspec := fmt.Sprintf("%s:%s", branchRef, branchRef)
	err = origin.Push([]string{refspec}, &git.PushOptions{
		RemoteCallbacks: callbacks,
	})
	switch {
	case err != nil && git.IsErrorCode(err, git.ErrNonFastForward):
		return ErrSyncConflict
	case err != nil:
		if cerr := classifyTransportErr(err); cerr != err {
			return cerr
		}
		return fmt.Errorf("push failed: %s", err)
	case rejected != "":
		s.lg.Warnw("Push rejected by remote.", "status", rejected)
		return ErrSyncConflict
	}
	s.lg.Infow("Pushed master.", "remote", s.remoteURL)
	return nil
}
