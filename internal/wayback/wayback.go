// Package `wayback` acquires snapshots of an upstream resource from the
// Internet Archive Wayback Machine.
//
// The acquisition protocol has two paths.  The primary path submits a save
// request and polls the availability API until the asynchronous capture
// completes.  The fallback path resolves an already existing snapshot by
// following the redirect of the archive's browsing endpoint.  The fallback
// is taken whenever the primary path fails, in particular when the save
// endpoint rate-limits the request, so the pipeline makes forward progress
// even under throttling.
package wayback

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	neturl "net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/aursnapd/aursnapd/pkg/ratecounter"
	"github.com/aursnapd/aursnapd/pkg/ratelimit"
)

const (
	defaultAPIBase     = "https://archive.org"
	defaultWebBase     = "https://web.archive.org"
	defaultHTTPTimeout = 2 * time.Minute
)

type Logger interface {
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
}

// `Snapshot` is one capture as reported by the availability API.
type Snapshot struct {
	Available bool   `json:"available"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

type availableResponse struct {
	ArchivedSnapshots map[string]Snapshot `json:"archived_snapshots"`
}

// `Fingerprint` identifies a fully downloaded artifact.  It is only
// constructed after the artifact bytes have been hashed; it is never
// partially populated.
type Fingerprint struct {
	// `Version` is the capture timestamp token, `YYYYMMDDhhmmss`.
	Version string
	// `Sha256` is the lowercase hex digest of the artifact bytes.
	Sha256 string
	// `URL` is the resolved snapshot location.
	URL string
	// `Synthetic` is true if `Version` was synthesized from the local
	// clock instead of the snapshot URL.
	Synthetic bool
}

type Config struct {
	// `APIBase` and `WebBase` default to archive.org and
	// web.archive.org.  Tests point them at httptest servers.
	APIBase string
	WebBase string
	// `HTTPTimeout` bounds each individual request, including the
	// artifact download.
	HTTPTimeout time.Duration
	// `RequestsPerSecond` spaces calls to the archive endpoints.  The
	// save endpoint rejects high-frequency clients.
	RequestsPerSecond float64
	// `DownloadBytesPerSecond` throttles the artifact download.  Zero
	// means unlimited.
	DownloadBytesPerSecond int64
}

type Client struct {
	lg       Logger
	http     *http.Client
	apiBase  string
	webBase  string
	limiter  *rate.Limiter
	dlBucket *ratelimit.Bucket
	plan     pollPlan
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func NewClient(lg Logger, cfg *Config) *Client {
	c := &Client{
		lg:      lg,
		apiBase: cfg.APIBase,
		webBase: cfg.WebBase,
		plan:    defaultPollPlan(),
		sleep:   sleepCtx,
		now:     time.Now,
	}
	if c.apiBase == "" {
		c.apiBase = defaultAPIBase
	}
	if c.webBase == "" {
		c.webBase = defaultWebBase
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	c.http = &http.Client{Timeout: timeout}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	if cfg.DownloadBytesPerSecond > 0 {
		c.dlBucket = ratelimit.NewBucketWithRate(
			float64(cfg.DownloadBytesPerSecond),
			cfg.DownloadBytesPerSecond,
		)
	}
	return c
}

// `Acquire()` resolves a snapshot of `target`, downloads it, and returns
// its fingerprint together with the artifact bytes.  It fails with
// `ErrArchiveUnavailable` if neither a new nor an existing snapshot can be
// obtained.
func (c *Client) Acquire(
	ctx context.Context, target string,
) (*Fingerprint, []byte, error) {
	c.lg.Infow("Requesting new snapshot.", "url", target)
	snapURL, err := c.SaveAndPoll(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, err
		}
		c.lg.Warnw(
			"Could not create new snapshot; "+
				"falling back to existing snapshot.",
			"err", err,
		)
		snap, err2 := c.LatestExisting(ctx, target)
		if err2 != nil {
			err := fmt.Errorf("%w: %s", ErrArchiveUnavailable, err2)
			return nil, nil, err
		}
		if snap == nil || !snap.Available {
			return nil, nil, ErrArchiveUnavailable
		}
		c.lg.Infow("Using existing snapshot.", "url", snap.URL)
		snapURL = snap.URL
	}

	payload, sum, err := c.Download(ctx, snapURL)
	if err != nil {
		err := fmt.Errorf(
			"%w: download `%s`: %s",
			ErrArchiveUnavailable, snapURL, err,
		)
		return nil, nil, err
	}

	fp := &Fingerprint{URL: snapURL, Sha256: sum}
	if v, ok := VersionFromSnapshotURL(snapURL); ok {
		fp.Version = v
	} else {
		fp.Version = SyntheticVersion(c.now())
		fp.Synthetic = true
		c.lg.Warnw(
			"Snapshot URL has no timestamp segment; "+
				"synthesized version from local clock.",
			"url", snapURL,
			"version", fp.Version,
		)
	}
	c.lg.Infow(
		"Acquired snapshot.",
		"url", fp.URL,
		"version", fp.Version,
		"sha256", fp.Sha256,
	)
	return fp, payload, nil
}

// `SaveAndPoll()` submits a save request and polls the availability API
// until the capture is available.  HTTP 429 abandons the create path
// immediately with `ErrRateLimited`; creation is never retried.
func (c *Client) SaveAndPoll(
	ctx context.Context, target string,
) (string, error) {
	saveURL := fmt.Sprintf("%s/save/%s", c.webBase, target)
	c.lg.Infow("Submitting save request.", "url", saveURL)
	resp, err := c.get(ctx, saveURL)
	if err != nil {
		return "", err
	}
	_, _ = io.Copy(ioutil.Discard, resp.Body)
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf(
			"save request failed: status %d", resp.StatusCode,
		)
	}

	c.lg.Infow("Save request accepted; waiting for capture.")
	if err := c.sleep(ctx, settleDelay); err != nil {
		return "", err
	}

	for attempt := 1; ; attempt++ {
		c.lg.Infow("Checking snapshot availability.", "attempt", attempt)
		snap, err := c.CheckArchived(ctx, target)
		var res pollResult
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			c.lg.Warnw("Availability check failed.", "err", err)
			res = pollError
		case snap != nil && snap.Available:
			res = pollFound
		default:
			res = pollPending
		}
		action, delay := c.plan.next(attempt, res)
		switch action {
		case pollDone:
			c.lg.Infow("Found new snapshot.", "url", snap.URL)
			return snap.URL, nil
		case pollGiveUp:
			return "", ErrNoSnapshot
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

// `CheckArchived()` queries the availability API for the closest snapshot
// of `target`.  It returns nil without error if the API reports none.
func (c *Client) CheckArchived(
	ctx context.Context, target string,
) (*Snapshot, error) {
	apiURL := fmt.Sprintf(
		"%s/wayback/available?url=%s",
		c.apiBase, neturl.QueryEscape(target),
	)
	resp, err := c.get(ctx, apiURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"availability query failed: status %d", resp.StatusCode,
		)
	}
	var dec availableResponse
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		return nil, fmt.Errorf("failed to decode availability response: %s", err)
	}
	snap, ok := dec.ArchivedSnapshots["closest"]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// `LatestExisting()` resolves an already existing snapshot by following the
// redirect of the browsing endpoint `<web>/web/<target>`.  A timestamp
// segment in the resolved location confirms the snapshot.  It returns nil
// without error if no snapshot exists.
func (c *Client) LatestExisting(
	ctx context.Context, target string,
) (*Snapshot, error) {
	browseURL := fmt.Sprintf("%s/web/%s", c.webBase, target)
	c.lg.Infow("Resolving existing snapshot.", "url", browseURL)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, browseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()

	final := resp.Request.URL.String()
	ts, ok := VersionFromSnapshotURL(final)
	if !ok {
		c.lg.Infow("No existing snapshot found.", "resolved", final)
		return nil, nil
	}
	c.lg.Infow(
		"Found existing snapshot.",
		"url", final,
		"timestamp", ts,
	)
	return &Snapshot{Available: true, URL: final, Timestamp: ts}, nil
}

// `Download()` fetches the artifact and returns its bytes and SHA-256.  A
// non-2xx response is a hard failure.
func (c *Client) Download(
	ctx context.Context, url string,
) ([]byte, string, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf(
			"download failed: status %d", resp.StatusCode,
		)
	}

	var r io.Reader = resp.Body
	if c.dlBucket != nil {
		r = ratelimit.Reader(r, c.dlBucket)
	}
	counter := ratecounter.NewRateCounter(time.Second)
	cr := &countingReader{r: r, counter: counter}

	var buf bytes.Buffer
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(h, &buf), cr)
	if err != nil {
		return nil, "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	c.lg.Infow(
		"Download complete.",
		"bytes", n,
		"bytesPerSecond", counter.Rate(),
		"sha256", sum,
	)
	return buf.Bytes(), sum, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

type countingReader struct {
	r       io.Reader
	counter *ratecounter.RateCounter
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.counter.Incr(int64(n))
	}
	return n, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
