package ring

import "testing"

func TestBufferBasicOperations(t *testing.T) {
	rb := &Buffer[int]{buffer: make([]int, 5)}

	if !rb.Empty() {
		t.Error("a freshly created buffer should be empty")
	}
	if rb.Len() != 0 {
		t.Errorf("empty buffer should have length 0, got %d", rb.Len())
	}

	rb.Push(1)
	rb.Push(2)
	rb.Push(3)

	if rb.Empty() {
		t.Error("buffer should not be empty after pushes")
	}
	if rb.Len() != 3 {
		t.Errorf("expected length 3, got %d", rb.Len())
	}

	val, ok := rb.Pop()
	if !ok || val != 1 {
		t.Errorf("expected Pop to return 1, got %d", val)
	}
	if rb.Len() != 2 {
		t.Errorf("expected length 2 after pop, got %d", rb.Len())
	}

	peekVal, ok := rb.Peek()
	if !ok || *peekVal != 2 {
		t.Errorf("expected Peek to return 2, got %d", *peekVal)
	}
	if rb.Len() != 2 {
		t.Errorf("Peek should not change length, got %d", rb.Len())
	}
}

func TestBufferFullAndGrow(t *testing.T) {
	rb := &Buffer[int]{buffer: make([]int, 3)}

	rb.Push(1)
	rb.Push(2)

	if !rb.Full() {
		t.Error("buffer should be full")
	}
	if rb.MaxLen() != 2 {
		t.Errorf("expected max length 2, got %d", rb.MaxLen())
	}

	rb.Push(3) // should trigger growth

	if rb.Full() {
		t.Error("buffer should not be full after growing")
	}
	if rb.Len() != 3 {
		t.Errorf("expected length 3 after growth, got %d", rb.Len())
	}
}

func TestBufferEmptyOperations(t *testing.T) {
	rb := &Buffer[int]{buffer: make([]int, 5)}

	val, ok := rb.Pop()
	if ok {
		t.Error("Pop on an empty buffer should return false")
	}
	if val != 0 {
		t.Errorf("Pop on an empty buffer should return the zero value, got %d", val)
	}

	peekVal, ok := rb.Peek()
	if ok {
		t.Error("Peek on an empty buffer should return false")
	}
	if peekVal != nil {
		t.Error("Peek on an empty buffer should return nil")
	}
}

func TestBufferDiscard(t *testing.T) {
	rb := &Buffer[int]{buffer: make([]int, 10)}
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}

	discarded := rb.Discard(2)
	if discarded != 2 {
		t.Errorf("expected to discard 2, discarded %d", discarded)
	}
	if rb.Len() != 3 {
		t.Errorf("expected length 3 after discard, got %d", rb.Len())
	}

	val, ok := rb.Pop()
	if !ok || val != 3 {
		t.Errorf("expected first remaining element to be 3, got %d", val)
	}

	discarded = rb.Discard(10)
	if discarded != 2 {
		t.Errorf("expected to discard only 2 remaining, discarded %d", discarded)
	}
	if !rb.Empty() {
		t.Error("buffer should be empty after discarding everything")
	}

	discarded = rb.Discard(5)
	if discarded != 0 {
		t.Errorf("discard on an empty buffer should return 0, got %d", discarded)
	}
}

func TestBufferWraparound(t *testing.T) {
	rb := &Buffer[int]{buffer: make([]int, 5)}

	for i := 1; i <= 4; i++ {
		rb.Push(i)
	}
	rb.Pop()
	rb.Pop()

	rb.Push(5)
	rb.Push(6)
	rb.Push(7)

	expected := []int{3, 4, 5, 6, 7}
	for _, exp := range expected {
		val, ok := rb.Pop()
		if !ok || val != exp {
			t.Errorf("wraparound mismatch: expected %d, got %d", exp, val)
		}
	}
}

func TestBufferStringType(t *testing.T) {
	rb := &Buffer[string]{buffer: make([]string, 5)}

	rb.Push("hello")
	rb.Push("world")

	val, ok := rb.Pop()
	if !ok || val != "hello" {
		t.Errorf("expected 'hello', got %q", val)
	}

	peekVal, ok := rb.Peek()
	if !ok || *peekVal != "world" {
		t.Errorf("expected Peek to return 'world', got %q", *peekVal)
	}
}

func TestBufferLazyInit(t *testing.T) {
	var rb Buffer[int]
	if !rb.Empty() {
		t.Error("zero-value buffer should be empty")
	}
	rb.Push(42)
	if rb.Len() != 1 {
		t.Errorf("expected length 1 after pushing to zero-value buffer, got %d", rb.Len())
	}
}
