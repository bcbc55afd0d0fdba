package proxy

import "time"

// pendingKind identifies the kind of an in-flight client command.
type pendingKind int

const (
	// pendingConnect is a login attempt awaiting backend confirmation.
	pendingConnect pendingKind = iota
)

// pendingCommand is one client command whose backend echo is awaited.
type pendingCommand struct {
	kind      pendingKind
	user      string
	password  string
	createdAt time.Time
}

// pendingQueue is a per-session FIFO of in-flight commands. Depth is 0
// or 1 in practice; there is no capacity limit. Both peek and pop
// operate on the head.
type pendingQueue struct {
	items []pendingCommand
}

func (q *pendingQueue) push(cmd pendingCommand) {
	q.items = append(q.items, cmd)
}

// peek returns the head entry without removing it.
func (q *pendingQueue) peek() (pendingCommand, bool) {
	if len(q.items) == 0 {
		return pendingCommand{}, false
	}
	return q.items[0], true
}

// pop removes and returns the head entry.
func (q *pendingQueue) pop() (pendingCommand, bool) {
	if len(q.items) == 0 {
		return pendingCommand{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// headAge reports how long the head entry has been waiting.
func (q *pendingQueue) headAge(now time.Time) (time.Duration, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return now.Sub(q.items[0].createdAt), true
}

func (q *pendingQueue) len() int {
	return len(q.items)
}
