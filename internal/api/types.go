package api

import (
	"time"

	"github.com/aituberlink/core/domain/entities"
	"github.com/aituberlink/core/internal/broker"
)

// StatusResponse describes the broker connection as seen by the UI.
type StatusResponse struct {
	Status        entities.ConnectionStatus `json:"status"`
	Attempts      int                       `json:"attempts"`
	Subscriptions []entities.Subscription   `json:"subscriptions"`
	LastError     *LastErrorResponse        `json:"last_error,omitempty"`
}

// LastErrorResponse carries the classified failure plus rendered hints.
type LastErrorResponse struct {
	Code        broker.ErrorCode `json:"code"`
	Message     string           `json:"message"`
	Remediation string           `json:"remediation"`
}

// SettingsResponse wraps the stored settings with validation feedback for
// the connection parameters they imply.
type SettingsResponse struct {
	Settings   entities.Settings       `json:"settings"`
	Validation broker.ValidationResult `json:"validation"`
}

// BridgeAuthRequest is the renderer token request
type BridgeAuthRequest struct {
	RendererID string `json:"renderer_id"`
}

// BridgeAuthResponse is the renderer token response
type BridgeAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
