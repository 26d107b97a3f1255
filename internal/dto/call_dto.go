package dto

import "github.com/trustapp/trust-go-api/internal/models"

// Call websocket event names exchanged with signaling clients.
const (
	CallEventOffer     = "offer"
	CallEventAnswer    = "answer"
	CallEventCandidate = "candidate"
	CallEventEnd       = "end"
	CallEventSignal    = "signal"
	CallEventError     = "error"
)

// CallClientEvent is a signaling action sent by a connected peer.
type CallClientEvent struct {
	Event       string                     `json:"event" validate:"required,oneof=offer answer candidate end"`
	Description *models.SessionDescription `json:"description,omitempty"`
	Candidate   *models.ICECandidate       `json:"candidate,omitempty"`
}

// CallServerEvent is pushed to connected peers on every signaling change.
type CallServerEvent struct {
	Event   string             `json:"event"`
	Signal  *models.CallSignal `json:"signal,omitempty"`
	Message string             `json:"message,omitempty"`
}
