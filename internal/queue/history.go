package queue

// History is the stack of previously played items consulted by "previous".
// It grows on forward transitions and shrinks on backward transitions;
// queue edits never touch it.
type History[T any] struct {
	items []T
}

// NewHistory creates an empty history stack.
func NewHistory[T any]() *History[T] {
	return &History[T]{}
}

// Push records an item as played.
func (h *History[T]) Push(item T) {
	h.items = append(h.items, item)
}

// Pop removes and returns the most recently played item.
// Returns false if the history is empty.
func (h *History[T]) Pop() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	item := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return item, true
}

// Len returns the number of items in the history.
func (h *History[T]) Len() int {
	return len(h.items)
}
