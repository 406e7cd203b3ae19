// Package tasklist implements the doubly-linked backlog used by the queue.
//
// It is not safe for concurrent use; the queue serialises access.
package tasklist

import "iter"

// Element is a handle to a value stored in a List.
type Element[V any] struct {
	Value V

	prev, next *Element[V]
	list       *List[V]
}

// List is a doubly-linked sequence with O(1) insertion at both ends,
// O(1) removal of a known element and an always-accurate length.
// The zero value is an empty list ready to use.
type List[V any] struct {
	head, tail *Element[V]
	n          int
}

// New returns an empty list.
func New[V any]() *List[V] { return &List[V]{} }

// Len returns the number of elements reachable from the head.
func (l *List[V]) Len() int { return l.n }

// Front returns the first element or nil.
func (l *List[V]) Front() *Element[V] { return l.head }

// PushBack appends v and returns its element.
func (l *List[V]) PushBack(v V) *Element[V] {
	e := &Element[V]{Value: v, list: l}
	if l.tail == nil {
		l.head, l.tail = e, e
	} else {
		e.prev = l.tail
		l.tail.next = e
		l.tail = e
	}
	l.n++
	return e
}

// PushFront prepends v and returns its element.
func (l *List[V]) PushFront(v V) *Element[V] {
	e := &Element[V]{Value: v, list: l}
	if l.head == nil {
		l.head, l.tail = e, e
	} else {
		e.next = l.head
		l.head.prev = e
		l.head = e
	}
	l.n++
	return e
}

// PopFront removes and returns the first value. ok is false on an empty list.
func (l *List[V]) PopFront() (v V, ok bool) {
	e := l.head
	if e == nil {
		return v, false
	}
	l.unlink(e)
	return e.Value, true
}

// Remove unlinks e if it still belongs to l and reports whether it did.
func (l *List[V]) Remove(e *Element[V]) bool {
	if e == nil || e.list != l {
		return false
	}
	l.unlink(e)
	return true
}

// RemoveFunc removes every value for which pred returns true and returns
// how many were removed. Survivors keep their relative order.
func (l *List[V]) RemoveFunc(pred func(V) bool) int {
	removed := 0
	for e := l.head; e != nil; {
		next := e.next
		if pred(e.Value) {
			l.unlink(e)
			removed++
		}
		e = next
	}
	return removed
}

// Clear drops every element.
func (l *List[V]) Clear() {
	for e := l.head; e != nil; {
		next := e.next
		e.prev, e.next, e.list = nil, nil, nil
		e = next
	}
	l.head, l.tail = nil, nil
	l.n = 0
}

// All yields values from front to back without mutating the list.
// Mutating the list while ranging over it is undefined.
func (l *List[V]) All() iter.Seq[V] {
	return func(yield func(V) bool) {
		for e := l.head; e != nil; e = e.next {
			if !yield(e.Value) {
				return
			}
		}
	}
}

// Values returns a snapshot of the values from front to back.
func (l *List[V]) Values() []V {
	out := make([]V, 0, l.n)
	for e := l.head; e != nil; e = e.next {
		out = append(out, e.Value)
	}
	return out
}

func (l *List[V]) unlink(e *Element[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next, e.list = nil, nil, nil
	l.n--
}
