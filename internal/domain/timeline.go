package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле черновика.
type TimelineEvent struct {
	SessionID string
	Type      string
	Reason    string
	Occurred  time.Time
}
