package state

import "encoding/json"

// Document is the rich-text surface. Writes replace the whole content;
// the last write to reach the relay wins.
type Document struct {
	status  Status
	content string
	meta    Meta
	waiters waitList
}

// Status reports the lifecycle stage.
func (d *Document) Status() Status { return d.status }

// Content returns the current content and its bookkeeping.
func (d *Document) Content() (string, Meta) { return d.content, d.meta }

// BeginLoad moves an EMPTY document to LOADING. It reports false when a
// load is already running or the document is bootstrapped.
func (d *Document) BeginLoad() bool {
	if d.status != Empty {
		return false
	}
	d.status = Loading
	return true
}

// Wait queues connID for the snapshot that CompleteLoad will produce.
func (d *Document) Wait(connID string) { d.waiters.add(connID) }

// Forget removes connID from the wait queue.
func (d *Document) Forget(connID string) { d.waiters.remove(connID) }

// CompleteLoad bootstraps a LOADING document from storage and returns the
// queued connections. rec may be nil. ok is false when the document was
// already bootstrapped by a direct write, in which case rec is discarded.
func (d *Document) CompleteLoad(rec *Loaded) (waiters []string, ok bool) {
	if d.status != Loading {
		return nil, false
	}
	if rec != nil {
		var content string
		if err := json.Unmarshal(rec.Data, &content); err == nil {
			d.content = content
			d.meta = rec.Meta
		}
	}
	d.status = Bootstrapped
	return d.waiters.drain(), true
}

// Set stores content as the sole authoritative value, bumps the version
// and returns any connections that were waiting for a bootstrap.
func (d *Document) Set(content, identity string, nowMs int64) []string {
	d.content = content
	d.meta.touch(identity, nowMs)
	d.status = Bootstrapped
	return d.waiters.drain()
}

// Record encodes the document for durable storage.
func (d *Document) Record() Loaded {
	data, _ := json.Marshal(d.content)
	return Loaded{Data: data, Meta: d.meta}
}
