package server

import "time"

const (
	// Eyes that stop reporting linger this long before the reaper evicts them.
	staleAfter    = 30 * time.Second
	sweepInterval = 10 * time.Second

	// Outgoing frames queued per subscriber before it is treated as a
	// failed write and removed.
	subscriberQueueSize = 256

	// Distance ahead of a newly created eye used for the default gaze
	// target when the creating update carries no lookAt.
	defaultLookAhead = 12.5

	// Fixed spawn height and depth for seeded boxes.
	boxSpawnY       = 5.0
	boxSpawnZ       = -20.0
	boxSpawnSpacing = 15.0
)

// boxPalette is cycled by box creation order. A box keeps its color for its
// whole lifetime; updates never carry one.
var boxPalette = []string{
	"#FF0000",
	"#00FF00",
	"#0000FF",
	"#FFFF00",
	"#FF00FF",
	"#00FFFF",
	"#FFA500",
	"#FF69B4",
	"#39FF14",
	"#7D05EF",
	"#FDFD33",
	"#FF7F00",
}

// StaleAfter reports the eviction threshold used by the staleness reaper.
func StaleAfter() time.Duration { return staleAfter }

// SweepInterval reports the reaper's sweep cadence.
func SweepInterval() time.Duration { return sweepInterval }
