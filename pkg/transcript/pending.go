package transcript

// Pending holds at most one entry that has not been committed yet.
// An entry held here is either committed or discarded, never both.
// Pending is not safe for concurrent use; its owner serializes access.
type Pending struct {
	entry *Entry
}

// Set replaces the held entry.
func (p *Pending) Set(e Entry) {
	p.entry = &e
}

// Discard takes the held entry out of the holder. The caller commits it or drops it.
func (p *Pending) Discard() (Entry, bool) {
	if p.entry == nil {
		return Entry{}, false
	}
	e := *p.entry
	p.entry = nil
	return e, true
}
