package session

import "time"

const (
	TypeVideoCall = "video_call"
	TypeVoiceCall = "voice_call"
	TypeClass     = "class"

	// ModeLive charges at close from the balance checked at admission.
	// ModeDeferred admits for free; the explicit end/attendance call is the
	// only charge trigger (classes).
	ModeLive     = "live"
	ModeDeferred = "deferred"

	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Session prices one metered engagement. The per-minute rate is locked at
// start so a mid-session rate change never affects either party.
type Session struct {
	ID              int        `db:"id" json:"id"`
	ConsumerAccount int        `db:"consumer_account" json:"consumer_account"`
	ProviderAccount int        `db:"provider_account" json:"provider_account"`
	Type            string     `db:"type" json:"type"`
	ChargeMode      string     `db:"charge_mode" json:"charge_mode"`
	RatePerMinute   int64      `db:"rate_per_minute" json:"rate_per_minute"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	EndedAt         *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	DurationMinutes int64      `db:"duration_minutes" json:"duration_minutes"`
	TotalCharge     int64      `db:"total_charge" json:"total_charge"`
	Shortfall       int64      `db:"shortfall" json:"shortfall"`
	Status          string     `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

func ValidType(t string) bool {
	switch t {
	case TypeVideoCall, TypeVoiceCall, TypeClass:
		return true
	}
	return false
}

// ChargeModeFor returns the billing mode for a session type. Classes use the
// deferred policy everywhere it applies.
func ChargeModeFor(sessionType string) string {
	if sessionType == TypeClass {
		return ModeDeferred
	}
	return ModeLive
}
