package telemetry

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/stat"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkAvoidanceSpike BookmarkType = "avoidance_spike"
	BookmarkAvoidanceStall BookmarkType = "avoidance_stall"
	BookmarkFlockScatter   BookmarkType = "flock_scatter"
	BookmarkEscape         BookmarkType = "escape"
	BookmarkSettled        BookmarkType = "settled"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Tick        int64        `csv:"tick"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"description", b.Description,
	)
}

// BookmarkDetector detects interesting moments in the flock.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// State tracking
	escaped            bool // out-of-bounds fraction currently above threshold
	settledWindowCount int  // consecutive windows with steady spacing
}

// Thresholds
const (
	escapeFrac       = 0.25
	stallFrac        = 0.25
	settledCVSq      = 0.01 // CV < 10%
	settledWindows   = 5
	minAvoidForSpike = 10
)

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5 // minimum for settled detection
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		// Avoidance spike: avoid-branch share > 2x rolling average
		if b := bd.checkAvoidanceSpike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Flock scatter: nearest-neighbour spacing > 2x rolling average
		if b := bd.checkFlockScatter(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Settled: steady spacing over several windows
		if b := bd.checkSettled(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	// Stateless checks run from the first window
	if b := bd.checkAvoidanceStall(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if b := bd.checkEscape(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func avoidShare(s WindowStats) float64 {
	if s.Evaluations == 0 {
		return 0
	}
	return float64(s.AvoidBranch) / float64(s.Evaluations)
}

func (bd *BookmarkDetector) checkAvoidanceSpike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += avoidShare(h)
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	current := avoidShare(stats)
	if current > avg*2.0 && stats.AvoidBranch >= minAvoidForSpike {
		return &Bookmark{
			Type:        BookmarkAvoidanceSpike,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Avoidance share %.2f is %.1fx average (%.2f)", current, current/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkAvoidanceStall(stats WindowStats) *Bookmark {
	if stats.Evaluations == 0 || stats.AvoidGiveUps == 0 {
		return nil
	}
	frac := float64(stats.AvoidGiveUps) / float64(stats.Evaluations)
	if frac <= stallFrac {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkAvoidanceStall,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("%.0f%% of evaluations found no clear direction", frac*100),
	}
}

func (bd *BookmarkDetector) checkFlockScatter(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.SpacingMean
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.SpacingMean > avg*2.0 {
		return &Bookmark{
			Type:        BookmarkFlockScatter,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Spacing %.2f is %.1fx average (%.2f)", stats.SpacingMean, stats.SpacingMean/avg, avg),
		}
	}
	return nil
}

// checkEscape fires once each time the out-of-bounds fraction rises past the threshold.
func (bd *BookmarkDetector) checkEscape(stats WindowStats) *Bookmark {
	above := stats.OutOfBoundsFrac > escapeFrac
	defer func() { bd.escaped = above }()
	if !above || bd.escaped {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkEscape,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("%.0f%% of agents outside bounds", stats.OutOfBoundsFrac*100),
	}
}

func (bd *BookmarkDetector) checkSettled(stats WindowStats) *Bookmark {
	if stats.Agents < 2 || stats.SpacingMean == 0 {
		bd.settledWindowCount = 0
		return nil
	}

	history := bd.getHistory()
	if len(history) < 4 {
		return nil
	}

	spacing := make([]float64, 0, 4)
	for _, h := range history[len(history)-4:] {
		spacing = append(spacing, h.SpacingMean)
	}
	mean, variance := stat.PopMeanVariance(spacing, nil)

	cvSq := 0.0
	if mean > 0 {
		cvSq = variance / (mean * mean)
	}

	if mean > 0 && cvSq < settledCVSq {
		bd.settledWindowCount++
	} else {
		bd.settledWindowCount = 0
	}

	if bd.settledWindowCount == settledWindows { // trigger exactly once
		return &Bookmark{
			Type:        BookmarkSettled,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Spacing steady at %.2f over %d+ windows", mean, settledWindows),
		}
	}
	return nil
}
