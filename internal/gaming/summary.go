package gaming

import "time"

type Summary struct {
	SessionID       string `json:"session_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	DoorsVisited    int    `json:"doors_visited"`
	SeriesCompleted int    `json:"series_completed"`
	DoorsPerHour    int    `json:"doors_per_hour"`
	XP              int    `json:"xp"`
	Message         string `json:"message"`
}

// Summarize reports what a session achieved as of now.
func Summarize(s *Session, now time.Time) Summary {
	d := EffectiveDuration(s, now)
	perHour := 0
	if hours := d.Hours(); hours > 0 {
		perHour = int(float64(s.DoorsVisited)/hours + 0.5)
	}
	return Summary{
		SessionID:       s.ID,
		DurationSeconds: int64(d / time.Second),
		DoorsVisited:    s.DoorsVisited,
		SeriesCompleted: s.SeriesCompleted,
		DoorsPerHour:    perHour,
		XP:              SessionXP(s.DoorsVisited, s.SeriesCompleted),
		Message:         summaryMessage(s.SeriesCompleted, perHour),
	}
}

func summaryMessage(series, perHour int) string {
	switch {
	case series >= 5:
		return "Performance exceptionnelle ! Vous êtes un véritable champion de la prospection !"
	case series >= 3:
		return "Excellent travail ! Votre constance est remarquable !"
	case perHour >= 30:
		return "Belle efficacité ! Vous maintenez un rythme soutenu !"
	default:
		return "Bravo pour cette session ! Chaque porte compte !"
	}
}
