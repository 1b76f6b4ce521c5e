package domain

// WorkerTier distinguishes unrestricted workers from workshop-scoped ones.
type WorkerTier string

const (
	TierUnrestricted WorkerTier = "unrestricted"
	TierWorkshop     WorkerTier = "workshop"
)

// WorkerEligibility is derived state owned by profile management; the engine
// reads it through the eligibility provider and never mutates it.
type WorkerEligibility struct {
	WorkerID          string     `json:"worker_id"`
	Tier              WorkerTier `json:"tier"`
	WorkshopID        *string    `json:"workshop_id,omitempty"`
	CanAcceptSessions bool       `json:"can_accept_sessions"`
}
