package gitsync

import "errors"

// `ErrSyncConflict`: local and remote histories have diverged.  The
// synchronizer is fast-forward-only and refuses to guess a resolution.
var ErrSyncConflict = errors.New("diverged histories: refusing non-fast-forward sync")

// `ErrAuthFailed`: the remote rejected the configured SSH key.
var ErrAuthFailed = errors.New("remote rejected SSH authentication")
