package scraper

import (
	"testing"

	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
)

func TestInitialStatus(t *testing.T) {
	s := initialStatus()
	if s.State != StateRunning || s.CurrentPage != 1 || len(s.Items) != 0 || !s.Terminal.IsNone() {
		t.Errorf("initialStatus() = %+v", s)
	}
}

func TestRunStatus_Collect(t *testing.T) {
	s := initialStatus().collect([]model.Show{{ID: 1}, {ID: 2}})
	s = s.collect([]model.Show{{ID: 3}})

	if s.CurrentPage != 3 {
		t.Errorf("CurrentPage = %d, want 3", s.CurrentPage)
	}
	if len(s.Items) != 3 || s.Items[2].ID != 3 {
		t.Errorf("Items = %+v", s.Items)
	}
}

func TestRunStatus_CollectDoesNotAlias(t *testing.T) {
	base := initialStatus().collect([]model.Show{{ID: 1}})
	a := base.collect([]model.Show{{ID: 2}})
	b := base.collect([]model.Show{{ID: 3}})

	if a.Items[1].ID != 2 || b.Items[1].ID != 3 {
		t.Errorf("collect must copy: a=%+v b=%+v", a.Items, b.Items)
	}
}

func TestRunStatus_Fail(t *testing.T) {
	base := initialStatus().collect([]model.Show{{ID: 1}})

	failed := base.fail(TerminalRetry)
	if failed.State != StateFailed || failed.Terminal != TerminalRetry {
		t.Errorf("fail(retry) = %+v", failed)
	}
	if len(failed.Items) != 1 || failed.CurrentPage != 2 {
		t.Errorf("fail must keep items and page: %+v", failed)
	}

	exhausted := base.fail(TerminalNone)
	if exhausted.State != StateDone || !exhausted.Terminal.IsNone() {
		t.Errorf("fail(none) should be done: %+v", exhausted)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateRunning: "running",
		StateDone:    "done",
		StateFailed:  "failed",
		State(42):    "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestTerminalErrorString(t *testing.T) {
	if TerminalNone.String() != "none" {
		t.Errorf("TerminalNone.String() = %q", TerminalNone.String())
	}
	if TerminalRetry.String() != "retryError" || TerminalUnknown.String() != "unknownError" {
		t.Error("terminal tags must keep their wire names")
	}
}
