// Package `ratelimit` wraps the subset of `github.com/juju/ratelimit` that
// aursnapd uses to throttle artifact downloads.
package ratelimit

import "github.com/juju/ratelimit"

type Bucket = ratelimit.Bucket

// funcs
var Reader = ratelimit.Reader
var NewBucketWithRate = ratelimit.NewBucketWithRate
