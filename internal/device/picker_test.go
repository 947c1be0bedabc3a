package device

import (
	"errors"
	"testing"

	"github.com/gdamore/tcell"
	"github.com/rivo/tview"
)

func TestNewDeviceList(t *testing.T) {
	devices := []Device{
		{ID: "sdb", Name: "Stick A", Size: 1 << 30, Path: "/dev/sdb"},
		{ID: "sdc", Name: "Stick B", Size: 2 << 30, Path: "/dev/sdc"},
	}

	selected := -1
	cancelled := 0
	list := newDeviceList(devices, func(i int) { selected = i }, func() { cancelled++ })

	if got := list.GetItemCount(); got != len(devices)+1 {
		t.Fatalf("item count = %d, want %d", got, len(devices)+1)
	}
	main, secondary := list.GetItemText(1)
	if main != "Stick B" || secondary != "/dev/sdc  "+devices[1].SizeString() {
		t.Errorf("item 1 = %q / %q", main, secondary)
	}
	if main, _ := list.GetItemText(2); main != "Cancel" {
		t.Errorf("last item = %q, want Cancel", main)
	}

	list.InputHandler()(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone), func(tview.Primitive) {})
	if selected != 0 {
		t.Errorf("enter selected %d, want 0", selected)
	}

	if ev := list.GetInputCapture()(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)); ev != nil {
		t.Error("escape should be consumed")
	}
	if cancelled != 1 {
		t.Errorf("cancel called %d times, want 1", cancelled)
	}

	ev := tcell.NewEventKey(tcell.KeyDown, 0, tcell.ModNone)
	if got := list.GetInputCapture()(ev); got != ev {
		t.Error("other keys should pass through")
	}
}

func TestSelectDeviceWithoutDevices(t *testing.T) {
	if _, err := SelectDevice(nil); !errors.Is(err, ErrNoDevices) {
		t.Errorf("expected ErrNoDevices, got %v", err)
	}
}
