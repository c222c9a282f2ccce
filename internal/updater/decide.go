package updater

import (
	"github.com/aursnapd/aursnapd/internal/aurpkg"
	"github.com/aursnapd/aursnapd/internal/wayback"
)

// `Decision` is the outcome of comparing a fresh snapshot fingerprint
// against the last published manifest.
type Decision int

const (
	FirstPublish Decision = iota
	UpToDate
	NeedsUpdate
)

func (d Decision) String() string {
	switch d {
	case FirstPublish:
		return "first-publish"
	case UpToDate:
		return "up-to-date"
	case NeedsUpdate:
		return "needs-update"
	default:
		return "invalid"
	}
}

// `Reason` records why a decision was taken.  It is for observability
// only; control flow depends on the `Decision` alone.
type Reason int

const (
	ReasonNoManifest Reason = iota
	ReasonVersionNotNewer
	ReasonSameContent
	ReasonNewContent
	// `ReasonManifestUnreadable`: the manifest exists but its version or
	// hash could not be extracted.  Degrades to `NeedsUpdate` rather
	// than stalling on stale data.
	ReasonManifestUnreadable
)

func (r Reason) String() string {
	switch r {
	case ReasonNoManifest:
		return "no-manifest"
	case ReasonVersionNotNewer:
		return "version-not-newer"
	case ReasonSameContent:
		return "same-content"
	case ReasonNewContent:
		return "new-content"
	case ReasonManifestUnreadable:
		return "manifest-unreadable"
	default:
		return "invalid"
	}
}

// `Decide()` applies the update rules in order.  Version tokens are
// fixed-width timestamps, so the string comparison in rule 2 is a
// chronological comparison.
func Decide(prev *aurpkg.Published, fresh *wayback.Fingerprint) (Decision, Reason) {
	if prev == nil {
		return FirstPublish, ReasonNoManifest
	}
	if fresh.Version <= prev.Version {
		return UpToDate, ReasonVersionNotNewer
	}
	if fresh.Sha256 == prev.Sha256 {
		return UpToDate, ReasonSameContent
	}
	return NeedsUpdate, ReasonNewContent
}
