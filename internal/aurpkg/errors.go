package aurpkg

import "errors"

var ErrNoPkgver = errors.New("no pkgver in PKGBUILD")
var ErrNoSha256 = errors.New("no sha256sums in PKGBUILD")
