package domain

import "time"

// RequestStatus enumerates lifecycle states for service requests.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusAccepted   RequestStatus = "accepted"
	RequestStatusCancelled  RequestStatus = "cancelled"
	RequestStatusUnattended RequestStatus = "unattended"
	RequestStatusExpired    RequestStatus = "expired"
)

// ServiceRequest is a customer's ask for help. It starts in pending and is
// claimed by exactly one worker; every other edge leads to a terminal state.
type ServiceRequest struct {
	ID                 string
	CustomerID         string
	Kind               SessionKind
	Summary            string
	TargetWorkerID     *string
	RequiredWorkshopID *string
	PreferredStart     *time.Time
	Status             RequestStatus
	WorkerID           *string
	LinkedSessionID    *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	AcceptedAt         *time.Time
}
