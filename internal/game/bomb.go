package game

import "time"

// BombTimer is the armed-bomb countdown attached to a control point.
// It is independent of the ownership/hold engine: arming, disarming and
// exploding never change who holds the point.
type BombTimer struct {
	Active      bool      `json:"isActive"`
	Remaining   int       `json:"remainingTime"`
	ActivatedBy string    `json:"activatedBy"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// BombTimerView is the wire shape of one bomb timer, keyed by control
// point so clients can track multiple simultaneous bombs.
type BombTimerView struct {
	ControlPointID string `json:"controlPointId"`
	IsActive       bool   `json:"isActive"`
	RemainingTime  int    `json:"remainingTime"`
	ActivatedBy    string `json:"activatedBy,omitempty"`
	Exploded       bool   `json:"exploded,omitempty"`
}
