package gaming

import (
	"fmt"
	"math"

	"github.com/dukerupert/doorstep/internal/apperr"
)

const (
	// DefaultTargetDoors applies to cities created without a target.
	DefaultTargetDoors = 1000

	XPPerDoor   = 5
	XPPerSeries = 25
	XPPerLevel  = 1000
)

type rank struct {
	threshold float64
	label     string
}

// ranks is ordered by ascending threshold.
var ranks = []rank{
	{0, "Début du parcours"},
	{5, "Curieux"},
	{10, "Marcheur novice"},
	{20, "Explorateur de rue"},
	{30, "Collecteur d'adresses"},
	{40, "Heurtoir aguerri"},
	{50, "Maître du quartier"},
	{60, "Conquérant des rues"},
	{70, "Stratège urbain"},
	{80, "Champion local"},
	{90, "Légende de la poignée"},
	{100, "Maître des Portes"},
}

type Milestone struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Badge       string `json:"badge"`
	Doors       int    `json:"doors"`
}

type Progress struct {
	DoorsVisited int        `json:"doors_visited"`
	TargetDoors  int        `json:"target_doors"`
	Percentage   float64    `json:"percentage"`
	Rank         string     `json:"rank"`
	Milestone    *Milestone `json:"milestone,omitempty"`
}

// ComputeProgress maps a door count against a target to a percentage, a rank
// and, on the exact crossing count, a milestone.
func ComputeProgress(doorsVisited, targetDoors int) (Progress, error) {
	if targetDoors <= 0 {
		return Progress{}, fmt.Errorf("%w: target doors must be positive, got %d", apperr.ErrInvalidArgument, targetDoors)
	}
	if doorsVisited < 0 {
		return Progress{}, fmt.Errorf("%w: doors visited must not be negative, got %d", apperr.ErrInvalidArgument, doorsVisited)
	}
	pct := math.Min(100, 100*float64(doorsVisited)/float64(targetDoors))
	return Progress{
		DoorsVisited: doorsVisited,
		TargetDoors:  targetDoors,
		Percentage:   pct,
		Rank:         RankFor(pct),
		Milestone:    milestoneAt(doorsVisited, targetDoors),
	}, nil
}

// RankFor returns the label of the highest threshold pct meets.
func RankFor(pct float64) string {
	label := ranks[0].label
	for _, r := range ranks {
		if pct >= r.threshold {
			label = r.label
		}
	}
	return label
}

func milestoneAt(doors, target int) *Milestone {
	if doors <= 0 {
		return nil
	}
	// Highest first so that small targets, where several fractions floor to
	// the same count, report the larger milestone.
	candidates := []Milestone{
		{"Objectif atteint !", fmt.Sprintf("Vous avez visité toutes les %d portes !", target), "🏆", target},
		{"Dernier quart", "Plus que 25% des portes à visiter !", "🎯", target * 75 / 100},
		{"Mi-parcours", "Vous êtes à la moitié de votre objectif !", "⭐", target * 50 / 100},
		{"Premier quart", "Déjà 25% des portes visitées !", "🌟", target * 25 / 100},
		{"Bon début", "10% des portes visitées !", "✨", target * 10 / 100},
		{"Premiers pas", "5% des portes visitées !", "🎉", target * 5 / 100},
	}
	for _, m := range candidates {
		if doors == m.Doors {
			return &m
		}
	}
	return nil
}

// SessionXP is the experience a finished session is worth.
func SessionXP(doors, series int) int {
	return doors*XPPerDoor + series*XPPerSeries
}

func LevelForXP(xp int) int {
	if xp < 0 {
		return 1
	}
	return xp/XPPerLevel + 1
}
