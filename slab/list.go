package slab

// List is an intrusive doubly-linked list of slabs: membership is
// expressed through the Slab's own Prev/Next fields, so moving a slab
// between a node's full/partial/free lists never allocates.
type List struct {
	head, tail *Slab
	len        int
}

func (l *List) Len() int     { return l.len }
func (l *List) Front() *Slab { return l.head }
func (l *List) Empty() bool  { return l.len == 0 }

// PushBack appends s. s must not already belong to a list.
func (l *List) PushBack(s *Slab) {
	s.Prev, s.Next = l.tail, nil
	if l.tail != nil {
		l.tail.Next = s
	} else {
		l.head = s
	}
	l.tail = s
	l.len++
}

// Remove unlinks s from whichever position it occupies in l. s must
// currently belong to l.
func (l *List) Remove(s *Slab) {
	if s.Prev != nil {
		s.Prev.Next = s.Next
	} else {
		l.head = s.Next
	}
	if s.Next != nil {
		s.Next.Prev = s.Prev
	} else {
		l.tail = s.Prev
	}
	s.Prev, s.Next = nil, nil
	l.len--
}

// PopFront removes and returns the head of the list, or nil if empty.
func (l *List) PopFront() *Slab {
	s := l.head
	if s == nil {
		return nil
	}
	l.Remove(s)
	return s
}
