package gitsync

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	git "github.com/libgit2/git2go"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Infow(msg string, kv ...interface{}) {}
func (nopLogger) Warnw(msg string, kv ...interface{}) {}

func testSig() *git.Signature {
	return &git.Signature{
		Name:  "tester",
		Email: "tester@example.com",
		When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func initBareRemote(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "remote.git")
	repo, err := git.InitRepository(path, true)
	require.NoError(t, err)
	repo.Free()
	return path
}

// `commitToRemote()` creates a commit on the bare remote's `master` without
// going through a working copy.
func commitToRemote(t *testing.T, path, file, content, msg string) *git.Oid {
	repo, err := git.OpenRepository(path)
	require.NoError(t, err)
	defer repo.Free()

	blobId, err := repo.CreateBlobFromBuffer([]byte(content))
	require.NoError(t, err)
	builder, err := repo.TreeBuilder()
	require.NoError(t, err)
	defer builder.Free()
	require.NoError(t, builder.Insert(file, blobId, git.FilemodeBlob))
	treeId, err := builder.Write()
	require.NoError(t, err)
	tree, err := repo.LookupTree(treeId)
	require.NoError(t, err)
	defer tree.Free()

	var parents []*git.Commit
	if master, err := repo.References.Lookup(branchRef); err == nil {
		parent, err := repo.LookupCommit(master.Target())
		master.Free()
		require.NoError(t, err)
		defer parent.Free()
		parents = append(parents, parent)
	}

	sig := testSig()
	oid, err := repo.CreateCommit(branchRef, sig, sig, msg, tree, parents...)
	require.NoError(t, err)
	return oid
}

// `commitInWorkdir()` writes a file and commits it locally, without pushing.
func commitInWorkdir(t *testing.T, r *Repo, file, content, msg string) *git.Oid {
	repo := r.git
	err := ioutil.WriteFile(
		filepath.Join(repo.Workdir(), file), []byte(content), 0644,
	)
	require.NoError(t, err)

	index, err := repo.Index()
	require.NoError(t, err)
	defer index.Free()
	require.NoError(t, index.AddAll([]string{"*"}, git.IndexAddDefault, nil))
	require.NoError(t, index.Write())
	treeId, err := index.WriteTree()
	require.NoError(t, err)
	tree, err := repo.LookupTree(treeId)
	require.NoError(t, err)
	defer tree.Free()

	var parents []*git.Commit
	if head, err := repo.Head(); err == nil {
		parent, err := repo.LookupCommit(head.Target())
		head.Free()
		require.NoError(t, err)
		defer parent.Free()
		parents = append(parents, parent)
	}

	sig := testSig()
	oid, err := repo.CreateCommit("HEAD", sig, sig, msg, tree, parents...)
	require.NoError(t, err)
	return oid
}

func configureUser(t *testing.T, r *Repo) {
	cfg, err := r.git.Config()
	require.NoError(t, err)
	defer cfg.Free()
	require.NoError(t, cfg.SetString("user.name", "tester"))
	require.NoError(t, cfg.SetString("user.email", "tester@example.com"))
}

func remoteMasterCommit(t *testing.T, path string) *git.Commit {
	repo, err := git.OpenRepository(path)
	require.NoError(t, err)
	defer repo.Free()
	master, err := repo.References.Lookup(branchRef)
	require.NoError(t, err)
	defer master.Free()
	commit, err := repo.LookupCommit(master.Target())
	require.NoError(t, err)
	return commit
}

func testSync(t *testing.T, remote string) (*Sync, string) {
	workdir := filepath.Join(t.TempDir(), "workdir")
	s := New(nopLogger{}, &Config{
		RemoteURL:  remote,
		SSHKeyPath: "/nonexistent/id_ed25519",
	})
	return s, workdir
}

func TestFirstPublishToEmptyRemote(t *testing.T) {
	remote := initBareRemote(t)
	s, workdir := testSync(t, remote)

	repo, err := s.Prepare(workdir)
	require.NoError(t, err)
	defer repo.Free()
	configureUser(t, repo)

	err = ioutil.WriteFile(
		filepath.Join(workdir, "PKGBUILD"),
		[]byte("pkgver=20240101000000\n"),
		0644,
	)
	require.NoError(t, err)

	err = s.CommitAndPush(repo, "Update to 20240101000000")
	require.NoError(t, err)

	commit := remoteMasterCommit(t, remote)
	defer commit.Free()
	require.Equal(t, "Update to 20240101000000", commit.Message())
	require.Equal(t, uint(0), commit.ParentCount())
}

func TestPrepareClonesAndFastForwards(t *testing.T) {
	remote := initBareRemote(t)
	commitToRemote(t, remote, "PKGBUILD", "pkgver=1\n", "Update to 1")
	s, workdir := testSync(t, remote)

	repo, err := s.Prepare(workdir)
	require.NoError(t, err)
	repo.Free()

	want := commitToRemote(t, remote, "PKGBUILD", "pkgver=2\n", "Update to 2")

	repo, err = s.Prepare(workdir)
	require.NoError(t, err)
	defer repo.Free()

	head, err := repo.git.Head()
	require.NoError(t, err)
	defer head.Free()
	require.True(t, head.Target().Equal(want))

	b, err := ioutil.ReadFile(filepath.Join(workdir, "PKGBUILD"))
	require.NoError(t, err)
	require.Equal(t, "pkgver=2\n", string(b))
}

func TestPrepareUpToDateNoop(t *testing.T) {
	remote := initBareRemote(t)
	want := commitToRemote(t, remote, "PKGBUILD", "pkgver=1\n", "Update to 1")
	s, workdir := testSync(t, remote)

	repo, err := s.Prepare(workdir)
	require.NoError(t, err)
	repo.Free()

	repo, err = s.Prepare(workdir)
	require.NoError(t, err)
	defer repo.Free()

	head, err := repo.git.Head()
	require.NoError(t, err)
	defer head.Free()
	require.True(t, head.Target().Equal(want))
}

func TestPrepareDivergedConflict(t *testing.T) {
	remote := initBareRemote(t)
	commitToRemote(t, remote, "PKGBUILD", "pkgver=1\n", "Update to 1")
	s, workdir := testSync(t, remote)

	repo, err := s.Prepare(workdir)
	require.NoError(t, err)
	local := commitInWorkdir(t, repo, "PKGBUILD", "pkgver=2a\n", "Update to 2a")
	repo.Free()

	commitToRemote(t, remote, "PKGBUILD", "pkgver=2b\n", "Update to 2b")

	_, err = s.Prepare(workdir)
	require.Equal(t, ErrSyncConflict, err)

	// The local branch must be untouched.
	check, err := git.OpenRepository(workdir)
	require.NoError(t, err)
	defer check.Free()
	head, err := check.Head()
	require.NoError(t, err)
	defer head.Free()
	require.True(t, head.Target().Equal(local))
}

func TestPushRejectedNonFastForward(t *testing.T) {
	remote := initBareRemote(t)
	commitToRemote(t, remote, "PKGBUILD", "pkgver=1\n", "Update to 1")
	s, workdir := testSync(t, remote)

	repo, err := s.Prepare(workdir)
	require.NoError(t, err)
	defer repo.Free()
	configureUser(t, repo)

	// A concurrent writer publishes first.
	want := commitToRemote(t, remote, "PKGBUILD", "pkgver=2b\n", "Update to 2b")

	err = ioutil.WriteFile(
		filepath.Join(workdir, "PKGBUILD"), []byte("pkgver=2a\n"), 0644,
	)
	require.NoError(t, err)
	err = s.CommitAndPush(repo, "Update to 2a")
	require.Equal(t, ErrSyncConflict, err)

	commit := remoteMasterCommit(t, remote)
	defer commit.Free()
	require.True(t, commit.Id().Equal(want))
}
