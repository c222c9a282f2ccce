// Package `config` loads and validates the per-run configuration.  One
// immutable `Config` is built at startup and passed into each component's
// constructor; nothing reads configuration ambiently.
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl"
	yaml "gopkg.in/yaml.v2"
)

type Logger interface {
	Warnw(msg string, kv ...interface{})
}

type Config struct {
	// `PkgName` is the AUR package, which also names the remote
	// repository `ssh://aur@aur.archlinux.org/<pkg>.git`.
	PkgName   string `yaml:"pkgName" hcl:"pkgName"`
	OriginURL string `yaml:"originUrl" hcl:"originUrl"`
	WorkDir   string `yaml:"workDir" hcl:"workDir"`
	// `SSHKeyPath` is the private key for the AUR remote; the public
	// key is expected next to it with a `.pub` suffix.
	SSHKeyPath string `yaml:"sshKeyPath" hcl:"sshKeyPath"`
	// `AURRemote` overrides the remote URL derived from `PkgName`.
	AURRemote string `yaml:"aurRemote" hcl:"aurRemote"`

	// Package metadata for generated PKGBUILD and .SRCINFO files.
	Maintainer string   `yaml:"maintainer" hcl:"maintainer"`
	PkgDesc    string   `yaml:"pkgDesc" hcl:"pkgDesc"`
	ProjectURL string   `yaml:"projectUrl" hcl:"projectUrl"`
	Depends    []string `yaml:"depends" hcl:"depends"`

	// Local artifact cache; `CacheKeep` bounds the number of entries,
	// zero disables pruning, an empty `CacheDir` disables the cache.
	CacheDir  string `yaml:"cacheDir" hcl:"cacheDir"`
	CacheKeep int    `yaml:"cacheKeep" hcl:"cacheKeep"`

	// `DownloadBytesPerSecond` throttles the artifact download; zero
	// means unlimited.
	DownloadBytesPerSecond int64 `yaml:"downloadBytesPerSecond" hcl:"downloadBytesPerSecond"`
}

// `Default()` mirrors the deployment this tool was built for.  A config
// file or CLI flags override individual fields.
func Default() *Config {
	return &Config{
		PkgName:    "aacs-keydb-daily",
		OriginURL:  "http://fvonline-db.bplaced.net/export/keydb_eng.zip",
		WorkDir:    "/tmp/aur-aacs-keydb-daily",
		SSHKeyPath: "~/.ssh/id_ed25519",
		Maintainer: "aursnapd",
		PkgDesc:    "Contains the Key Database for the AACS Library (Daily Updates)",
		ProjectURL: "http://fvonline-db.bplaced.net/",
		Depends:    []string{"libaacs"},
		CacheKeep:  10,
	}
}

// `Load()` reads a config file into `cfg`.  YAML is the supported format.
// HCL files are still read for compatibility with early deployments, with
// a deprecation warning.
func Load(lg Logger, file string, cfg *Config) error {
	dat, err := ioutil.ReadFile(file)
	if err != nil {
		return err
	}
	switch filepath.Ext(file) {
	case ".yml", ".yaml":
		if err := yaml.UnmarshalStrict(dat, cfg); err != nil {
			return fmt.Errorf(
				"failed to parse config `%s`: %s", file, err,
			)
		}
	case ".hcl":
		if err := hcl.Unmarshal(dat, cfg); err != nil {
			return fmt.Errorf(
				"failed to parse config `%s`: %s", file, err,
			)
		}
		lg.Warnw(
			"DEPRECATED HCL config.  You should migrate to YAML.",
			"file", file,
		)
	default:
		return fmt.Errorf("unknown config file format `%s`", file)
	}
	return nil
}

// `ExpandPaths()` resolves a leading `~/` in the configured paths.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.WorkDir, &c.SSHKeyPath, &c.CacheDir,
	} {
		ex, err := expandTilde(*p)
		if err != nil {
			return err
		}
		*p = ex
	}
	return nil
}

func expandTilde(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func (c *Config) RemoteURL() string {
	if c.AURRemote != "" {
		return c.AURRemote
	}
	return fmt.Sprintf("ssh://aur@aur.archlinux.org/%s.git", c.PkgName)
}

func (c *Config) Validate() error {
	if c.PkgName == "" {
		return errors.New("package name must not be empty")
	}
	if !strings.HasPrefix(c.OriginURL, "http://") &&
		!strings.HasPrefix(c.OriginURL, "https://") {
		return fmt.Errorf("invalid origin URL `%s`", c.OriginURL)
	}
	if c.WorkDir == "" {
		return errors.New("workdir must not be empty")
	}
	if _, err := os.Stat(c.SSHKeyPath); err != nil {
		return fmt.Errorf(
			"cannot access SSH key `%s`: %s", c.SSHKeyPath, err,
		)
	}
	return nil
}
