package broker

import (
	"fmt"
	"strings"

	"github.com/aituberlink/core/domain/entities"
)

// ValidationResult carries the full diagnostic output for one configuration.
// Issues block a connect attempt; warnings are surfaced but do not.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

// Conventional broker ports, used only for warning heuristics.
const (
	portMQTT     = 1883
	portMQTTS    = 8883
	portWSPlain  = 9001
	portWSAlt    = 8083
	portWSSecure = 8084
)

// ValidateConfig checks a connection configuration and produces
// human-readable diagnostics. It is pure and must be invoked before every
// connect attempt.
func ValidateConfig(cfg entities.ConnectionConfig) ValidationResult {
	var issues, warnings []string

	if strings.TrimSpace(cfg.Host) == "" {
		issues = append(issues, "host must not be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		issues = append(issues, fmt.Sprintf("port %d is out of range 1-65535", cfg.Port))
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		issues = append(issues, "client identifier must not be empty")
	}
	if cfg.Transport == entities.TransportWebsocket && strings.TrimSpace(cfg.TunnelPath) == "" {
		issues = append(issues, "websocket transport requires a tunnel path (e.g. /mqtt)")
	}

	host := strings.TrimSpace(cfg.Host)
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		warnings = append(warnings, fmt.Sprintf("host %q is a loopback address; only a broker on this machine will be reachable", host))
	}

	switch {
	case cfg.Secure && (cfg.Port == portMQTT || cfg.Port == portWSPlain || cfg.Port == portWSAlt):
		warnings = append(warnings, fmt.Sprintf("TLS is enabled but port %d is conventionally unencrypted", cfg.Port))
	case !cfg.Secure && (cfg.Port == portMQTTS || cfg.Port == portWSSecure):
		warnings = append(warnings, fmt.Sprintf("port %d is conventionally TLS but the secure flag is off", cfg.Port))
	}

	if cfg.Username != "" && cfg.Password == "" {
		warnings = append(warnings, "username is set without a password")
	}
	if cfg.Username == "" && cfg.Password != "" {
		warnings = append(warnings, "password is set without a username")
	}

	switch cfg.Transport {
	case entities.TransportTCP:
		if cfg.Port == portWSPlain || cfg.Port == portWSAlt || cfg.Port == portWSSecure {
			warnings = append(warnings, fmt.Sprintf("port %d is conventionally a websocket port but the transport is raw TCP", cfg.Port))
		}
	case entities.TransportWebsocket:
		if cfg.Port == portMQTT || cfg.Port == portMQTTS {
			warnings = append(warnings, fmt.Sprintf("port %d is conventionally a raw MQTT port but the transport is websocket", cfg.Port))
		}
	}

	return ValidationResult{
		Valid:    len(issues) == 0,
		Issues:   issues,
		Warnings: warnings,
	}
}
