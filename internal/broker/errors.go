package broker

import (
	"fmt"
	"strings"
)

// ErrorCode is the classifier's taxonomy for connection and protocol
// failures.
type ErrorCode string

const (
	ErrCodeConfig    ErrorCode = "configuration"
	ErrCodeTimeout   ErrorCode = "timeout"
	ErrCodeRefused   ErrorCode = "connection_refused"
	ErrCodeAuth      ErrorCode = "authentication"
	ErrCodeTLS       ErrorCode = "tls"
	ErrCodeNetwork   ErrorCode = "network"
	ErrCodeWebsocket ErrorCode = "websocket"
	ErrCodeProtocol  ErrorCode = "protocol"
	ErrCodeUnknown   ErrorCode = "unknown"
)

// ClassifiedError pairs a raw failure with remediation hints for
// diagnostics surfaces.
type ClassifiedError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Remediation []string  `json:"remediation"`
}

type errorRule struct {
	code        ErrorCode
	keywords    []string
	remediation []string
}

// Rules are matched in order; the first keyword hit wins, so more specific
// categories must precede broader ones.
var errorRules = []errorRule{
	{
		code:     ErrCodeTimeout,
		keywords: []string{"timeout", "timed out", "deadline exceeded"},
		remediation: []string{
			"Check that the broker host and port are correct",
			"Check that the broker is running and reachable from this machine",
			"Increase the connection timeout if the network is slow",
		},
	},
	{
		code:     ErrCodeRefused,
		keywords: []string{"connection refused", "refused"},
		remediation: []string{
			"Check that the broker is listening on the configured port",
			"Check firewall rules between this machine and the broker",
		},
	},
	{
		code:     ErrCodeAuth,
		keywords: []string{"not authorized", "bad user name", "bad username", "authentication", "unauthorized"},
		remediation: []string{
			"Check the configured username and password",
			"Check that the broker allows this client identifier",
		},
	},
	{
		code:     ErrCodeTLS,
		keywords: []string{"tls", "ssl", "certificate", "x509"},
		remediation: []string{
			"Check that the secure flag matches the broker port",
			"Check that the broker certificate is valid and trusted",
		},
	},
	{
		code:     ErrCodeNetwork,
		keywords: []string{"no such host", "dns", "network is unreachable", "no route to host", "lookup"},
		remediation: []string{
			"Check the broker hostname for typos",
			"Check that this machine has network connectivity",
		},
	},
	{
		code:     ErrCodeWebsocket,
		keywords: []string{"websocket", "bad handshake", "upgrade"},
		remediation: []string{
			"Check that the tunnel path matches the broker's websocket endpoint",
			"Check that the broker has websocket listeners enabled",
		},
	},
	{
		code:     ErrCodeProtocol,
		keywords: []string{"identifier rejected", "protocol violation", "unacceptable protocol", "malformed"},
		remediation: []string{
			"Check that the broker supports MQTT 3.1.1",
			"Regenerate the client identifier from the settings screen",
		},
	},
}

// ClassifyError maps a raw failure into the taxonomy by ordered keyword
// matching on its description. It has no side effects and never fails;
// unmatched errors land in the generic category. A nil error classifies
// as unknown with no remediation.
func ClassifyError(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Code: ErrCodeUnknown, Message: "unknown error"}
	}

	desc := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, kw := range rule.keywords {
			if strings.Contains(desc, kw) {
				return ClassifiedError{
					Code:        rule.code,
					Message:     err.Error(),
					Remediation: rule.remediation,
				}
			}
		}
	}

	return ClassifiedError{
		Code:    ErrCodeUnknown,
		Message: err.Error(),
		Remediation: []string{
			"Check the application log for details",
			"Verify the connection settings and retry",
		},
	}
}

// FormatRemediation renders the remediation hints as a numbered list for
// presentation.
func (e ClassifiedError) FormatRemediation() string {
	var b strings.Builder
	for i, r := range e.Remediation {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	return b.String()
}
