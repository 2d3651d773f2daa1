package metrics

import (
	apperrors "github.com/crawlytics/governor/pkg/errors"
)

// Tracker scopes the metrics attribution of one operation. The canonical
// use is:
//
//	t := collector.Track(url)
//	defer t.Finish(&err)
//
// which guarantees EndRequest fires exactly once however the scope exits,
// including panics. A tracker belongs to a single goroutine.
type Tracker struct {
	collector *Collector
	id        string

	done    bool
	marked  bool
	success bool
	kind    apperrors.Kind
	bytes   int64
	retries int
}

// Track starts a request and returns its scoped tracker.
func (c *Collector) Track(url string) *Tracker {
	return &Tracker{
		collector: c,
		id:        c.StartRequest(url),
	}
}

// MarkSuccess records the operation as successful regardless of how the
// scope exits.
func (t *Tracker) MarkSuccess() {
	t.marked = true
	t.success = true
	t.kind = ""
}

// MarkError records the operation as failed with the given kind.
func (t *Tracker) MarkError(kind apperrors.Kind) {
	t.marked = true
	t.success = false
	t.kind = kind
}

// SetResponseSize records the downloaded byte count.
func (t *Tracker) SetResponseSize(n int64) {
	t.bytes = n
}

// SetRetryCount records how many retries the operation needed.
func (t *Tracker) SetRetryCount(n int) {
	t.retries = n
}

// Finish completes the tracked request. Designed for defer: a panic in the
// scope is recorded as a failure of unknown kind and re-raised; a scope
// that returned an error without an explicit mark is recorded as a failure
// of that error's kind; otherwise the request counts as a success. errp may
// be nil for scopes that cannot fail.
func (t *Tracker) Finish(errp *error) {
	if t.done {
		return
	}
	t.done = true

	if r := recover(); r != nil {
		t.collector.EndRequest(t.id, false, t.bytes, apperrors.KindUnknown, t.retries)
		panic(r)
	}

	success, kind := t.success, t.kind
	if !t.marked {
		if errp != nil && *errp != nil {
			success = false
			kind = apperrors.KindOf(*errp)
		} else {
			success = true
		}
	}
	t.collector.EndRequest(t.id, success, t.bytes, kind, t.retries)
}
