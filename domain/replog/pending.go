package replog

// entry is one slot of the store. prev/next link it into the pending queue
// while it has no global position.
type entry struct {
	rec Record

	prev *entry
	next *entry
}

// pendingQueue is a FIFO of unsequenced entries in insertion order.
// Entries leave from any position once they are sequenced.
type pendingQueue struct {
	head *entry
	tail *entry
	n    int
}

func (q *pendingQueue) Enqueue(e *entry) {
	if q.head == nil {
		q.head = e
		q.tail = e
	} else {
		q.tail.next = e
		e.prev = q.tail
		q.tail = e
	}
	q.n++
}

// Remove unlinks e, which must be queued.
func (q *pendingQueue) Remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.tail = e.prev
	}
	e.prev = nil
	e.next = nil
	q.n--
}

func (q *pendingQueue) Len() int { return q.n }

func (q *pendingQueue) Head() *entry { return q.head }
