package device

import (
	"fmt"

	"github.com/gdamore/tcell"
	"github.com/rivo/tview"
)

// SelectDevice shows a full-screen list of devices and returns the chosen
// one. Escape or the cancel item returns ErrNotConfirmed.
func SelectDevice(devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevices
	}

	app := tview.NewApplication()
	selected := -1
	list := newDeviceList(devices,
		func(i int) {
			selected = i
			app.Stop()
		},
		app.Stop,
	)

	if err := app.SetRoot(list, true).Run(); err != nil {
		return Device{}, fmt.Errorf("device picker failed: %w", err)
	}
	if selected < 0 {
		return Device{}, ErrNotConfirmed
	}
	return devices[selected], nil
}

func newDeviceList(devices []Device, onSelect func(int), onCancel func()) *tview.List {
	list := tview.NewList().
		SetSecondaryTextColor(tcell.ColorYellow).
		SetShortcutColor(tcell.ColorGreen)

	for i, d := range devices {
		idx := i
		var shortcut rune
		if i < 9 {
			shortcut = rune('1' + i)
		}
		list.AddItem(d.Name, fmt.Sprintf("%s  %s", d.Path, d.SizeString()), shortcut, func() {
			onSelect(idx)
		})
	}
	list.AddItem("Cancel", "Leave every drive untouched", 'q', onCancel)

	list.SetBorder(true)
	list.SetTitle(" Select the drive to overwrite ")
	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			onCancel()
			return nil
		}
		return event
	})
	return list
}
