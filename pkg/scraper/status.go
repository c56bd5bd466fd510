package scraper

import (
	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
)

// State is the orchestrator state.
type State int

const (
	// StateRunning fetches CurrentPage next.
	StateRunning State = iota

	// StateDone means the catalog is exhausted.
	StateDone

	// StateFailed means a call ended with a terminal error.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TerminalError tags how a run stopped. The zero value means no error.
type TerminalError string

const (
	// TerminalNone marks normal catalog exhaustion.
	TerminalNone TerminalError = ""

	// TerminalRetry marks a call that stayed rate limited after all retries.
	TerminalRetry TerminalError = "retryError"

	// TerminalUnknown marks a server, transport or projection failure.
	TerminalUnknown TerminalError = "unknownError"

	// TerminalCancelled marks a run stopped by its context.
	TerminalCancelled TerminalError = "cancelled"
)

// IsNone reports whether the run ended without error.
func (e TerminalError) IsNone() bool {
	return e == TerminalNone
}

// String implements fmt.Stringer.
func (e TerminalError) String() string {
	if e == TerminalNone {
		return "none"
	}
	return string(e)
}

// RunStatus is the transient state of one run.
//
// Once Terminal is set or State leaves StateRunning, no further calls are
// issued and Items is frozen. CurrentPage advances by one per successfully
// processed non-empty page.
type RunStatus struct {
	State       State
	CurrentPage int
	Items       []model.Show
	Terminal    TerminalError
}

func initialStatus() RunStatus {
	return RunStatus{
		State:       StateRunning,
		CurrentPage: 1,
		Items:       []model.Show{},
	}
}

// collect appends a processed page and advances to the next one.
func (s RunStatus) collect(shows []model.Show) RunStatus {
	items := make([]model.Show, 0, len(s.Items)+len(shows))
	items = append(items, s.Items...)
	items = append(items, shows...)
	return RunStatus{
		State:       StateRunning,
		CurrentPage: s.CurrentPage + 1,
		Items:       items,
	}
}

// done marks catalog exhaustion.
func (s RunStatus) done() RunStatus {
	s.State = StateDone
	s.Terminal = TerminalNone
	return s
}

// fail stops the run. A TerminalNone tag is normal exhaustion.
func (s RunStatus) fail(terminal TerminalError) RunStatus {
	if terminal.IsNone() {
		return s.done()
	}
	s.State = StateFailed
	s.Terminal = terminal
	return s
}
