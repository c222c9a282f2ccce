package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type warnRecorder struct {
	warnings []string
}

func (l *warnRecorder) Warnw(msg string, kv ...interface{}) {
	l.warnings = append(l.warnings, msg)
}

func writeConfig(t *testing.T, name, content string) string {
	file := filepath.Join(t.TempDir(), name)
	require.NoError(t, ioutil.WriteFile(file, []byte(content), 0644))
	return file
}

func TestLoadYaml(t *testing.T) {
	file := writeConfig(t, "aursnapd.yml", `
pkgName: "example-daily"
originUrl: "http://example.com/export/data.zip"
workDir: "/var/lib/aursnapd/example-daily"
depends:
  - "libaacs"
cacheKeep: 3
downloadBytesPerSecond: 100000
`)
	lg := &warnRecorder{}
	cfg := Default()
	require.NoError(t, Load(lg, file, cfg))
	require.Equal(t, "example-daily", cfg.PkgName)
	require.Equal(t, "http://example.com/export/data.zip", cfg.OriginURL)
	require.Equal(t, "/var/lib/aursnapd/example-daily", cfg.WorkDir)
	require.Equal(t, []string{"libaacs"}, cfg.Depends)
	require.Equal(t, 3, cfg.CacheKeep)
	require.Equal(t, int64(100000), cfg.DownloadBytesPerSecond)
	// Fields absent from the file keep their defaults.
	require.Equal(t, "~/.ssh/id_ed25519", cfg.SSHKeyPath)
	require.Empty(t, lg.warnings)
}

func TestLoadYamlRejectsUnknownKeys(t *testing.T) {
	file := writeConfig(t, "aursnapd.yml", `
pkgName: "example-daily"
pgkName: "typo"
`)
	err := Load(&warnRecorder{}, file, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadHclWarnsDeprecated(t *testing.T) {
	file := writeConfig(t, "aursnapd.hcl", `
pkgName = "example-daily"
originUrl = "http://example.com/export/data.zip"
`)
	lg := &warnRecorder{}
	cfg := Default()
	require.NoError(t, Load(lg, file, cfg))
	require.Equal(t, "example-daily", cfg.PkgName)
	require.Len(t, lg.warnings, 1)
	require.Contains(t, lg.warnings[0], "DEPRECATED")
}

func TestLoadUnknownFormat(t *testing.T) {
	file := writeConfig(t, "aursnapd.toml", `pkgName = "x"`)
	err := Load(&warnRecorder{}, file, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown config file format")
}

func TestLoadMissingFile(t *testing.T) {
	err := Load(
		&warnRecorder{},
		filepath.Join(t.TempDir(), "missing.yml"),
		Default(),
	)
	require.Error(t, err)
}

func TestRemoteURL(t *testing.T) {
	cfg := &Config{PkgName: "aacs-keydb-daily"}
	require.Equal(
		t, "ssh://aur@aur.archlinux.org/aacs-keydb-daily.git",
		cfg.RemoteURL(),
	)

	cfg.AURRemote = "ssh://git@example.com/mirror.git"
	require.Equal(t, "ssh://git@example.com/mirror.git", cfg.RemoteURL())
}

func TestValidate(t *testing.T) {
	key := writeConfig(t, "id_ed25519", "not really a key")

	valid := func() *Config {
		return &Config{
			PkgName:    "example-daily",
			OriginURL:  "http://example.com/data.zip",
			WorkDir:    "/tmp/example",
			SSHKeyPath: key,
		}
	}
	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.PkgName = ""
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.OriginURL = "ftp://example.com/data.zip"
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.WorkDir = ""
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.SSHKeyPath = filepath.Join(t.TempDir(), "missing")
	require.Error(t, cfg.Validate())
}

func TestExpandPaths(t *testing.T) {
	cfg := &Config{
		WorkDir:    "/var/lib/aursnapd",
		SSHKeyPath: "~/.ssh/id_ed25519",
		CacheDir:   "",
	}
	require.NoError(t, cfg.ExpandPaths())
	require.Equal(t, "/var/lib/aursnapd", cfg.WorkDir)
	require.NotContains(t, cfg.SSHKeyPath, "~")
	require.True(t, filepath.IsAbs(cfg.SSHKeyPath))
	require.Equal(t, "", cfg.CacheDir)
}
