package metadata

import "errors"

// ErrNotFound is wrapped into a client's returned error on a 4xx response —
// a structured not-found rate/error policy.
var ErrNotFound = errors.New("metadata: not found")

// ErrTransient is wrapped into a client's returned error on 5xx, timeout,
// or DNS failure. There is no in-process retry; callers treat this as a
// graceful-skip ("metadata enrichment is non-fatal").
var ErrTransient = errors.New("metadata: transient failure")
