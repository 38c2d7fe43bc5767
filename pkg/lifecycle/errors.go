package lifecycle

import "fmt"

// SpanNotFoundError is returned when a close refers to a phase or
// activity with no open span. This is recoverable: an upstream
// failure may have prevented the matching open, and completion
// callbacks must tolerate that.
type SpanNotFoundError struct {
	Key string
}

func (e *SpanNotFoundError) Error() string {
	return fmt.Sprintf("no open span for %q", e.Key)
}

// InvalidParentError is returned when a phase span declares a parent
// phase whose slot is empty.
type InvalidParentError struct {
	Phase  Phase
	Parent Phase
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("cannot open %q: parent phase %q has no open span", e.Phase, e.Parent)
}

// SlotOccupiedError is returned when a phase is opened while its
// previous span is still open. A slot holds at most one span.
type SlotOccupiedError struct {
	Phase Phase
}

func (e *SlotOccupiedError) Error() string {
	return fmt.Sprintf("phase %q already has an open span", e.Phase)
}
