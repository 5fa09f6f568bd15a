// Package engine implements the sync core: conflict detection, atomic
// sync execution with compensating rollback, per-document dispatch, and
// the retrying processing queue.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/starford/laguz/internal/models"
)

// Tolerance absorbs clock drift and filesystem timestamp granularity:
// two timestamps within this window count as unchanged.
const Tolerance = 5 * time.Second

// Strategy names the resolution for a detected sync situation.
type Strategy string

// Resolution strategies.
const (
	StrategyLocalWins   Strategy = "local-wins"
	StrategyRemoteWins  Strategy = "remote-wins"
	StrategyManualMerge Strategy = "manual-merge"
)

// Side identifies one side of the sync pair.
type Side string

// Sides of the sync pair.
const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// ConflictResult classifies one local/remote timestamp comparison
// against the last-synced snapshot. Computed fresh per comparison,
// never persisted.
type ConflictResult struct {
	HasConflict  bool     `json:"has_conflict"`
	Strategy     Strategy `json:"strategy"`
	Reason       string   `json:"reason"`
	ChangedSides []Side   `json:"changed_sides"`
	ContentDiff  string   `json:"content_diff,omitempty"`
}

// DetectConflict compares current local/remote timestamps against the
// last-synced snapshot. A nil snapshot means first sync: the local side
// wins and nothing conflicts. Pure function, no I/O.
func DetectConflict(localModifiedAt, remoteUpdatedAt time.Time, snap *models.SyncSnapshot) ConflictResult {
	if snap == nil {
		return ConflictResult{
			Strategy:     StrategyLocalWins,
			Reason:       "first sync, no snapshot to compare against",
			ChangedSides: []Side{},
		}
	}

	localChanged := beyondTolerance(localModifiedAt, snap.LocalModifiedAt)
	remoteChanged := beyondTolerance(remoteUpdatedAt, snap.RemoteUpdatedAt)

	sides := []Side{}
	if localChanged {
		sides = append(sides, SideLocal)
	}
	if remoteChanged {
		sides = append(sides, SideRemote)
	}

	switch {
	case localChanged && remoteChanged:
		return ConflictResult{
			HasConflict:  true,
			Strategy:     StrategyManualMerge,
			Reason:       "both local and remote changed since last sync",
			ChangedSides: sides,
		}
	case localChanged:
		return ConflictResult{
			Strategy:     StrategyLocalWins,
			Reason:       "only local changed since last sync",
			ChangedSides: sides,
		}
	case remoteChanged:
		return ConflictResult{
			Strategy:     StrategyRemoteWins,
			Reason:       "only remote changed since last sync",
			ChangedSides: sides,
		}
	default:
		return ConflictResult{
			Strategy:     StrategyLocalWins,
			Reason:       "neither side changed since last sync",
			ChangedSides: sides,
		}
	}
}

// beyondTolerance reports whether two timestamps differ by more than
// Tolerance in either direction.
func beyondTolerance(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d > Tolerance
}

// GenerateContentDiff produces a unified diff from remote to local text
// with line-granularity LCS diffing.
func GenerateContentDiff(localText, remoteText string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(remoteText, localText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	sb.WriteString("--- remote\n")
	sb.WriteString("+++ local\n")
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			prefix = " "
		}
		for _, line := range splitLines(d.Text) {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Resolution is the outcome of applying a strategy to two concrete
// texts. Content is what gets written back locally.
type Resolution struct {
	Winner         Side   `json:"winner"`
	Content        string `json:"content"`
	Summary        string `json:"summary"`
	ManualRequired bool   `json:"manual_required"`
}

// ResolveConflict applies a strategy to the two sides. local-wins and
// remote-wins select a side outright; manual-merge frames both sides
// with conflict markers and leaves the final call to a human, with the
// local side as the nominal winner.
func ResolveConflict(strategy Strategy, localText, remoteText string) Resolution {
	switch strategy {
	case StrategyRemoteWins:
		return Resolution{
			Winner:  SideRemote,
			Content: remoteText,
			Summary: "remote version selected",
		}
	case StrategyManualMerge:
		var sb strings.Builder
		sb.WriteString("<<<<<<< LOCAL\n")
		sb.WriteString(localText)
		if !strings.HasSuffix(localText, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("=======\n")
		sb.WriteString(remoteText)
		if !strings.HasSuffix(remoteText, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(">>>>>>> REMOTE\n")
		return Resolution{
			Winner:         SideLocal,
			Content:        sb.String(),
			Summary:        "manual resolution required: both sides changed",
			ManualRequired: true,
		}
	default:
		return Resolution{
			Winner:  SideLocal,
			Content: localText,
			Summary: fmt.Sprintf("local version selected (%s)", strategy),
		}
	}
}
