package server

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Suites        int    `json:"suites"`
	Fingerprint   string `json:"fingerprint"`
}

// SuitesResponse is returned by GET /suites.
type SuitesResponse struct {
	Suites []SuiteInfo `json:"suites"`
}

// SuiteInfo describes one registered suite.
type SuiteInfo struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
	Custom  bool     `json:"custom,omitempty"`
}
