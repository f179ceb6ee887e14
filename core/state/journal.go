package state

// overlayValue is a pending write held in the dirty overlay. A deleted value
// masks whatever the backing store holds.
type overlayValue struct {
	data    []byte
	deleted bool
}

// journalEntry records the overlay contents for a key prior to a write so the
// write can be undone.
type journalEntry struct {
	key     string
	prev    overlayValue
	present bool
}

type journal []journalEntry

func (j journal) undo(dirty map[string]overlayValue, from int) {
	for i := len(j) - 1; i >= from; i-- {
		entry := j[i]
		if entry.present {
			dirty[entry.key] = entry.prev
		} else {
			delete(dirty, entry.key)
		}
	}
}

type revision struct {
	id           int
	journalIndex int
}
