package entities

// Settings is the persisted configuration surface. It is written by an
// external settings UI through the control API and read by the connection
// builder; the file format and location are owned by the settings store.
type Settings struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	Transport      string `json:"transport" mapstructure:"transport"`
	TunnelPath     string `json:"tunnel_path" mapstructure:"tunnel_path"`
	ClientID       string `json:"client_id" mapstructure:"client_id"`
	Username       string `json:"username" mapstructure:"username"`
	Password       string `json:"password" mapstructure:"password"`
	Secure         bool   `json:"secure" mapstructure:"secure"`
	ReconnectEnabled     bool  `json:"reconnect_enabled" mapstructure:"reconnect_enabled"`
	ReconnectInitialMs   int64 `json:"reconnect_initial_ms" mapstructure:"reconnect_initial_ms"`
	ReconnectMaxDelayMs  int64 `json:"reconnect_max_delay_ms" mapstructure:"reconnect_max_delay_ms"`
	ReconnectMaxAttempts int   `json:"reconnect_max_attempts" mapstructure:"reconnect_max_attempts"`

	SendMode         string `json:"send_mode" mapstructure:"send_mode"`
	DefaultKind      string `json:"default_kind" mapstructure:"default_kind"`
	DefaultPriority  string `json:"default_priority" mapstructure:"default_priority"`
	DefaultEmotion   string `json:"default_emotion" mapstructure:"default_emotion"`
	IncludeTimestamp bool   `json:"include_timestamp" mapstructure:"include_timestamp"`
	IncludeMetadata  bool   `json:"include_metadata" mapstructure:"include_metadata"`

	// ExtraTopics is a comma-separated list of topics subscribed in
	// addition to the default one.
	ExtraTopics string `json:"extra_topics" mapstructure:"extra_topics"`
}
