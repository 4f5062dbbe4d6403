package cache

// listNode represents a node in the recency list.
type listNode[V any] struct {
	next  *listNode[V]
	prev  *listNode[V]
	Value V
}

// Next returns the next node in the list.
func (n *listNode[V]) Next() *listNode[V] {
	return n.next
}

// Prev returns the previous node in the list.
func (n *listNode[V]) Prev() *listNode[V] {
	return n.prev
}

// recencyList is a doubly linked list ordering entries from least recently used (front)
// to most recently used (back).
type recencyList[V any] struct {
	head *listNode[V]
	tail *listNode[V]
	size int
}

// Len returns the number of elements in the list.
func (l *recencyList[V]) Len() int {
	return l.size
}

// Front returns the first node of the list or nil if the list is empty.
func (l *recencyList[V]) Front() *listNode[V] {
	return l.head
}

// Back returns the last node of the list or nil if the list is empty.
func (l *recencyList[V]) Back() *listNode[V] {
	return l.tail
}

// Remove removes a node from the list.
func (l *recencyList[V]) Remove(n *listNode[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		// Node is the head.
		l.head = n.next
	}

	if n.next != nil {
		n.next.prev = n.prev
	} else {
		// Node is the tail.
		l.tail = n.prev
	}

	// Clean up the removed node's pointers.
	n.next = nil
	n.prev = nil

	l.size--
}

// PushBack adds a new value to the back of the list, i.e. the most recently used position.
func (l *recencyList[V]) PushBack(v V) *listNode[V] {
	n := &listNode[V]{Value: v, prev: l.tail}
	if l.tail != nil {
		l.tail.next = n
	} else {
		// List was empty.
		l.head = n
	}
	l.tail = n
	l.size++
	return n
}

// MoveToBack marks an existing node as most recently used by moving it to the back.
func (l *recencyList[V]) MoveToBack(n *listNode[V]) {
	if l.tail == n {
		return // Already the most recently used.
	}
	l.Remove(n)

	n.prev = l.tail
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.size++
}
