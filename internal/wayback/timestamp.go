package wayback

import (
	"regexp"
	"time"

	"github.com/aursnapd/aursnapd/pkg/regexpx"
)

// Wayback snapshot timestamps are fixed-width `YYYYMMDDhhmmss` tokens.
// Because they are zero-padded, lexical order equals chronological order,
// which is what the update decision relies on.
const TimestampFormat = "20060102150405"

// A snapshot URL embeds its capture timestamp as a path segment
// `/web/<timestamp>/...`.  Redirect targets may carry shorter timestamps;
// anything of at least 8 digits counts as a capture.
var webTimestampRgx = regexp.MustCompile(regexpx.Verbose(`
	/web/
	( [0-9]{8,14} )
`))

// `VersionFromSnapshotURL()` extracts the capture timestamp from a resolved
// snapshot URL.  The second return value is false if the URL contains no
// timestamp segment.
func VersionFromSnapshotURL(url string) (string, bool) {
	m := webTimestampRgx.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// `SyntheticVersion()` formats a wall-clock time as a timestamp token.  It
// is a last resort when a snapshot URL carries no timestamp; fingerprints
// built from it are marked `Synthetic`, because a synthesized token is not
// guaranteed to sort correctly against genuine capture timestamps.
func SyntheticVersion(now time.Time) string {
	return now.UTC().Format(TimestampFormat)
}
