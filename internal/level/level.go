// Package level maps accumulated XP to a level on a fixed threshold table.
package level

// MaxLevel is the highest reachable level.
const MaxLevel = 10

// Thresholds holds the minimum XP for each level; Thresholds[L-1] is the
// floor of level L.
var Thresholds = [MaxLevel]int{0, 200, 500, 1000, 2000, 3500, 6000, 9000, 13000, 18000}

// For returns the greatest level L <= MaxLevel with xp >= Thresholds[L-1].
// The result is always at least 1, including for negative xp.
func For(xp int) int {
	lvl := 1
	for i := 1; i < MaxLevel; i++ {
		if xp < Thresholds[i] {
			break
		}
		lvl = i + 1
	}
	return lvl
}

// Progress describes where xp sits inside its level.
type Progress struct {
	Level int `json:"level"`
	// FloorXP is the XP at which Level was reached.
	FloorXP int `json:"floorXp"`
	// NextXP is the XP needed for the next level, 0 at MaxLevel.
	NextXP int `json:"nextXp"`
}

func ProgressFor(xp int) Progress {
	lvl := For(xp)
	p := Progress{Level: lvl, FloorXP: Thresholds[lvl-1]}
	if lvl < MaxLevel {
		p.NextXP = Thresholds[lvl]
	}
	return p
}
