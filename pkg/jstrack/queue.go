// queue.go implements the bounded in-memory buffer of pending records.

package jstrack

// errorQueue is an append-only FIFO with a hard capacity.
// It is not safe for concurrent use; the Pipeline serializes access.
type errorQueue struct {
	records  []ErrorRecord
	capacity int
}

func newErrorQueue(capacity int) *errorQueue {
	return &errorQueue{capacity: capacity}
}

// push appends r unless the queue is full. Full queues drop the newest
// record and keep what they already hold.
func (q *errorQueue) push(r ErrorRecord) bool {
	if len(q.records) >= q.capacity {
		return false
	}
	q.records = append(q.records, r)
	return true
}

// drain returns the queued records in arrival order and empties the queue.
func (q *errorQueue) drain() []ErrorRecord {
	batch := q.records
	q.records = nil
	return batch
}

func (q *errorQueue) len() int {
	return len(q.records)
}

// resize changes the capacity. When the queue holds more than the new
// capacity, the oldest records are kept and the trimmed newest ones are
// returned.
func (q *errorQueue) resize(capacity int) []ErrorRecord {
	q.capacity = capacity
	if len(q.records) <= capacity {
		return nil
	}
	trimmed := append([]ErrorRecord(nil), q.records[capacity:]...)
	q.records = q.records[:capacity:capacity]
	return trimmed
}
