package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates entries in an ExecutionLog.
type EventKind string

const (
	// EventTxSent records a submitted transaction signature.
	EventTxSent EventKind = "tx_sent"
	// EventReserve records an amount intentionally withheld from deposit.
	EventReserve EventKind = "reserve"
	// EventNote records a free-form observation (e.g. a direction mismatch).
	EventNote EventKind = "note"
)

// Event is one observable side effect of an operation.
type Event struct {
	Kind EventKind
	At   time.Time

	// EventTxSent
	Signature string
	Label     string

	// EventReserve
	Amount uint64
	Reason string

	// EventNote
	Note string
}

// ExecutionLog is the ordered record of side effects produced by one
// operation. Callers consume it after the fact (or stream it via Observer)
// instead of threading callbacks through the call graph.
type ExecutionLog struct {
	ID     string
	Events []Event

	// Observer, when set, is invoked synchronously for every appended event.
	Observer func(Event)
}

// NewExecutionLog creates an empty log with a fresh id.
func NewExecutionLog() *ExecutionLog {
	return &ExecutionLog{ID: uuid.New().String()}
}

func (l *ExecutionLog) append(ev Event) {
	ev.At = time.Now().UTC()
	l.Events = append(l.Events, ev)
	if l.Observer != nil {
		l.Observer(ev)
	}
}

// TxSent records a submitted transaction signature with a step label.
func (l *ExecutionLog) TxSent(signature, label string) {
	l.append(Event{Kind: EventTxSent, Signature: signature, Label: label})
}

// Reserve records an amount withheld from deposit and why.
func (l *ExecutionLog) Reserve(amount uint64, reason string) {
	l.append(Event{Kind: EventReserve, Amount: amount, Reason: reason})
}

// Note records a free-form observation.
func (l *ExecutionLog) Note(note string) {
	l.append(Event{Kind: EventNote, Note: note})
}

// Signatures returns all recorded transaction signatures in send order.
func (l *ExecutionLog) Signatures() []string {
	var sigs []string
	for _, ev := range l.Events {
		if ev.Kind == EventTxSent {
			sigs = append(sigs, ev.Signature)
		}
	}
	return sigs
}

// TotalReserved sums every reserved amount, for reconciling
// "what happened to my budget" against the enforced deposit.
func (l *ExecutionLog) TotalReserved() uint64 {
	var total uint64
	for _, ev := range l.Events {
		if ev.Kind == EventReserve {
			total += ev.Amount
		}
	}
	return total
}
