// Package window plans the block range an on-chain source scans next.
package window

// DefaultSafetyLag is the number of blocks kept between a window and the chain head.
const DefaultSafetyLag int64 = 10

// Window is an inclusive block range.
type Window struct {
	From int64
	To   int64
}

// Empty reports whether there is nothing safe to scan. A window whose upper
// bound does not pass the checkpoint would only re-read processed blocks.
func (w Window) Empty() bool {
	return w.To <= w.From
}

// Size returns the number of blocks covered, zero for an empty window.
func (w Window) Size() int64 {
	if w.Empty() {
		return 0
	}
	return w.To - w.From + 1
}

// Plan computes the next scan window.
//
// The window starts at the checkpoint and spans at most rate blocks. Its upper
// bound is clamped to head - lag so that blocks which may still be reorganized
// are never read. The lower bound is never moved below the checkpoint, so a
// source already within lag of the head gets an empty window.
func Plan(checkpoint, rate, head, lag int64) Window {
	if rate < 1 {
		rate = 1
	}
	if lag < 0 {
		lag = 0
	}

	from := checkpoint
	to := head
	if head-from > rate {
		to = from + rate
	}

	if safe := head - lag; to > safe {
		to = safe
	}

	return Window{From: from, To: to}
}
