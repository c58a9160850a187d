package playout

import "time"

// ShouldRestartFromTop decides, at the moment a live interruption ends,
// whether the schedule should re-deliver its current position instead of
// advancing past the interrupted item. Only schedule-mode re-delivers.
//
// The check projects the item's nominal length from now; any positive
// length passes. It is a heuristic: the playlist source resyncs by clock on
// re-delivery, which is not frame accurate.
func ShouldRestartFromTop(item Item, now time.Time, mode Mode) bool {
	if mode != ModePlaylist {
		return false
	}
	clipLength := item.Length()
	projectedEnd := now.Add(clipLength)
	return projectedEnd.After(now)
}
