package cli

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/semdex/semdex/lifecycle"
)

func TestWatchUISinkNeverBlocksBeforeRun(t *testing.T) {
	ui := newWatchUI([]folderLabel{{ID: "a", Path: "/tmp/a"}})

	// Orchestrators emit events as soon as they start, well before the
	// display is running. Flood the sink past its buffer capacity; no call
	// may block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			ui.OnStateChange(lifecycle.Event{FolderID: "a", Status: lifecycle.StatusActive, Terminal: true})
			ui.OnProgress(lifecycle.Event{FolderID: "a", Status: lifecycle.StatusIndexing})
		}
		ui.Quit()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("status sink blocked before the display started")
	}
}

func TestWatchUIDeliverDropsOldestUnderBackpressure(t *testing.T) {
	ui := newWatchUI(nil)

	for i := 0; i < cap(ui.events)+50; i++ {
		ui.deliver(watchEventMsg{event: lifecycle.Event{FolderID: "a", Progress: lifecycle.Progress{CompletedTasks: i}}})
	}
	ui.deliver(tea.QuitMsg{})

	// Drain the queue: the newest message must have survived the drops.
	var last tea.Msg
	for {
		select {
		case msg := <-ui.events:
			last = msg
			continue
		default:
		}
		break
	}
	if _, ok := last.(tea.QuitMsg); !ok {
		t.Fatalf("newest message was dropped, got %T", last)
	}
}
