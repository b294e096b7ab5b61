package transport

import (
	"mediator/message"
	"mediator/sched"
)

// PendingTable maps request IDs to the futures of their callers.
//
// It has no lock: it is owned by one Initiator and touched only from that
// Initiator's pump callbacks, which never run concurrently.
type PendingTable struct {
	entries map[uint32]*sched.Future[*message.Response]
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint32]*sched.Future[*message.Response])}
}

// Add registers f under id.
func (t *PendingTable) Add(id uint32, f *sched.Future[*message.Response]) {
	t.entries[id] = f
}

// Complete resolves and removes the entry for resp.ID. It reports false if no
// request with that ID is pending.
func (t *PendingTable) Complete(resp *message.Response) bool {
	f, ok := t.entries[resp.ID]
	if !ok {
		return false
	}
	delete(t.entries, resp.ID)
	f.Resolve(resp)
	return true
}

// FailAll rejects every pending future with err and empties the table.
func (t *PendingTable) FailAll(err error) int {
	n := len(t.entries)
	for id, f := range t.entries {
		f.Reject(err)
		delete(t.entries, id)
	}
	return n
}

// Len returns the number of requests awaiting a response.
func (t *PendingTable) Len() int {
	return len(t.entries)
}
