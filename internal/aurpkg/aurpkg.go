// Package `aurpkg` reads and writes the AUR package description files
// `PKGBUILD` and `.SRCINFO`.
//
// The pipeline treats the PKGBUILD as the published manifest: the `pkgver`
// and `sha256sums` fields record the last published snapshot fingerprint.
// On an update, both fields are rewritten in place, `pkgrel` is reset to 1,
// and the `.SRCINFO` is regenerated from the (version, hash, URL) triple.
package aurpkg

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"path"
	"regexp"
	"strings"
	"text/template"
)

var pkgverRgx = regexp.MustCompile(`pkgver=([^\s]+)`)
var sha256Rgx = regexp.MustCompile(`sha256sums=\('([^']+)'\)`)
var pkgrelRgx = regexp.MustCompile(`pkgrel=([^\s]+)`)

// `Published` is the fingerprint recorded by an existing PKGBUILD.
type Published struct {
	Version string
	Sha256  string
}

type Config struct {
	PkgName   string
	OriginURL string
	// Package metadata for a freshly created PKGBUILD and for the
	// regenerated .SRCINFO.
	Maintainer string
	Desc       string
	ProjectURL string
	Depends    []string
}

type Editor struct {
	cfg Config
	// `stem` and `ext` split the artifact basename of the origin URL,
	// for example `keydb_eng` and `zip`.
	stem string
	ext  string
}

func NewEditor(cfg Config) *Editor {
	base := path.Base(cfg.OriginURL)
	stem := base
	ext := ""
	if i := strings.LastIndex(base, "."); i > 0 {
		stem = base[:i]
		ext = base[i+1:]
	}
	return &Editor{cfg: cfg, stem: stem, ext: ext}
}

func (ed *Editor) CurrentVersion(file string) (string, error) {
	content, err := ioutil.ReadFile(file)
	if err != nil {
		return "", err
	}
	m := pkgverRgx.FindSubmatch(content)
	if m == nil {
		return "", ErrNoPkgver
	}
	return string(m[1]), nil
}

func (ed *Editor) CurrentSha256(file string) (string, error) {
	content, err := ioutil.ReadFile(file)
	if err != nil {
		return "", err
	}
	m := sha256Rgx.FindSubmatch(content)
	if m == nil {
		return "", ErrNoSha256
	}
	return string(m[1]), nil
}

// `Read()` extracts the published fingerprint from a PKGBUILD.
func (ed *Editor) Read(file string) (*Published, error) {
	version, err := ed.CurrentVersion(file)
	if err != nil {
		return nil, err
	}
	sha, err := ed.CurrentSha256(file)
	if err != nil {
		return nil, err
	}
	return &Published{Version: version, Sha256: sha}, nil
}

// `Update()` rewrites `pkgver` and `sha256sums` in place and resets
// `pkgrel` to 1.
func (ed *Editor) Update(file, version, sha256 string) error {
	b, err := ioutil.ReadFile(file)
	if err != nil {
		return err
	}
	content := string(b)
	if !pkgverRgx.MatchString(content) {
		return ErrNoPkgver
	}
	if !sha256Rgx.MatchString(content) {
		return ErrNoSha256
	}
	content = pkgverRgx.ReplaceAllLiteralString(
		content, "pkgver="+version,
	)
	content = sha256Rgx.ReplaceAllLiteralString(
		content, "sha256sums=('"+sha256+"')",
	)
	content = pkgrelRgx.ReplaceAllLiteralString(content, "pkgrel=1")
	return ioutil.WriteFile(file, []byte(content), 0644)
}

var pkgbuildTmpl = template.Must(template.New("PKGBUILD").Parse(
	`# Maintainer: {{.Maintainer}}
pkgname={{.PkgName}}
pkgver={{.Version}}
pkgrel=1
pkgdesc='{{.Desc}}'
arch=('any')
url='{{.ProjectURL}}'
depends=({{.Depends}})
source=("{{.Stem}}-${pkgver}.{{.Ext}}::https://web.archive.org/web/${pkgver}/{{.OriginURL}}")
sha256sums=('{{.Sha256}}')

package() {
    install -d "${pkgdir}/etc/xdg/aacs" || return 1
    install -Dm644 "${srcdir}/keydb.cfg" "${pkgdir}/etc/xdg/aacs/KEYDB.cfg" || return 1
}
`))

// `WriteInitial()` creates a complete PKGBUILD for a first publish.
func (ed *Editor) WriteInitial(file, version, sha256 string) error {
	var deps []string
	for _, d := range ed.cfg.Depends {
		deps = append(deps, fmt.Sprintf("'%s'", d))
	}
	var buf bytes.Buffer
	err := pkgbuildTmpl.Execute(&buf, map[string]string{
		"Maintainer": ed.cfg.Maintainer,
		"PkgName":    ed.cfg.PkgName,
		"Version":    version,
		"Desc":       ed.cfg.Desc,
		"ProjectURL": ed.cfg.ProjectURL,
		"Depends":    strings.Join(deps, " "),
		"Stem":       ed.stem,
		"Ext":        ed.ext,
		"OriginURL":  ed.cfg.OriginURL,
		"Sha256":     sha256,
	})
	if err != nil {
		return err
	}
	return ioutil.WriteFile(file, buf.Bytes(), 0644)
}

var srcinfoTmpl = template.Must(template.New(".SRCINFO").Parse(
	`pkgbase = {{.PkgName}}
	pkgdesc = {{.Desc}}
	pkgver = {{.Version}}
	pkgrel = 1
	url = {{.ProjectURL}}
	arch = any
{{range .Depends}}	depends = {{.}}
{{end}}	source = {{.Source}}
	sha256sums = {{.Sha256}}

pkgname = {{.PkgName}}
`))

// `Srcinfo()` renders the .SRCINFO content for a published snapshot.  The
// source line downloads the artifact directly from the resolved snapshot
// URL, pinned by version and content hash.
func (ed *Editor) Srcinfo(version, sha256, snapshotURL string) (string, error) {
	source := fmt.Sprintf(
		"%s-%s.%s::%s", ed.stem, version, ed.ext, snapshotURL,
	)
	var buf bytes.Buffer
	err := srcinfoTmpl.Execute(&buf, map[string]interface{}{
		"PkgName":    ed.cfg.PkgName,
		"Desc":       ed.cfg.Desc,
		"Version":    version,
		"ProjectURL": ed.cfg.ProjectURL,
		"Depends":    ed.cfg.Depends,
		"Source":     source,
		"Sha256":     sha256,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
