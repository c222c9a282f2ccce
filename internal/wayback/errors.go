package wayback

import "errors"

var ErrArchiveUnavailable = errors.New("no archive snapshot available")
var ErrRateLimited = errors.New("archive save request was rate limited")
var ErrNoSnapshot = errors.New("no available snapshot after polling")
