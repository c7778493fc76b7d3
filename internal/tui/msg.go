package tui

import (
	"time"

	"taskreminder/internal/engine"
	"taskreminder/internal/notify"
)

// MsgTick drives the countdown refresh.
type MsgTick struct {
	At time.Time
}

// MsgCountdownsLoaded carries a fresh countdown snapshot.
type MsgCountdownsLoaded struct {
	Items []engine.CountdownInfo
}

// MsgAlarm is sent when an alarm fires while the UI is open.
type MsgAlarm struct {
	Notification notify.Notification
}

// MsgError reports a failed load.
type MsgError struct {
	Err error
}
