package updater

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aursnapd/aursnapd/internal/aurpkg"
	"github.com/aursnapd/aursnapd/internal/wayback"
)

func fp(version, sha string) *wayback.Fingerprint {
	return &wayback.Fingerprint{
		Version: version,
		Sha256:  sha,
		URL: fmt.Sprintf(
			"https://web.archive.org/web/%s/http://example.com/keydb_eng.zip",
			version,
		),
	}
}

func TestDecideFirstPublish(t *testing.T) {
	d, r := Decide(nil, fp("20240101000000", "aaa"))
	require.Equal(t, FirstPublish, d)
	require.Equal(t, ReasonNoManifest, r)
}

func TestDecideTable(t *testing.T) {
	prev := &aurpkg.Published{
		Version: "20240101000000",
		Sha256:  "aaa",
	}
	for _, tc := range []struct {
		name     string
		fresh    *wayback.Fingerprint
		decision Decision
		reason   Reason
	}{
		{
			name:     "identical",
			fresh:    fp("20240101000000", "aaa"),
			decision: UpToDate,
			reason:   ReasonVersionNotNewer,
		},
		{
			name:     "older version",
			fresh:    fp("20231231235959", "bbb"),
			decision: UpToDate,
			reason:   ReasonVersionNotNewer,
		},
		{
			name:     "newer version same bytes",
			fresh:    fp("20240201000000", "aaa"),
			decision: UpToDate,
			reason:   ReasonSameContent,
		},
		{
			name:     "newer version new bytes",
			fresh:    fp("20240201000000", "bbb"),
			decision: NeedsUpdate,
			reason:   ReasonNewContent,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d, r := Decide(prev, tc.fresh)
			require.Equal(t, tc.decision, d)
			require.Equal(t, tc.reason, r)
		})
	}
}

// For any pair of timestamp tokens, a fresh version that does not sort
// strictly after the published one is up to date regardless of hashes.
func TestDecideVersionOrdering(t *testing.T) {
	tokens := []string{
		"19991231235959",
		"20240101000000",
		"20240101000001",
		"20240201000000",
		"20250101000000",
	}
	for _, pv := range tokens {
		for _, fv := range tokens {
			prev := &aurpkg.Published{Version: pv, Sha256: "aaa"}
			d, _ := Decide(prev, fp(fv, "bbb"))
			if fv <= pv {
				require.Equal(t, UpToDate, d, "%s vs %s", fv, pv)
			} else {
				require.Equal(t, NeedsUpdate, d, "%s vs %s", fv, pv)
			}
		}
	}
}

func TestDecisionStrings(t *testing.T) {
	require.Equal(t, "first-publish", FirstPublish.String())
	require.Equal(t, "up-to-date", UpToDate.String())
	require.Equal(t, "needs-update", NeedsUpdate.String())
	require.Equal(t, "manifest-unreadable", ReasonManifestUnreadable.String())
}
