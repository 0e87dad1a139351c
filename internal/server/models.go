package server

// HTTPError is the JSON error envelope returned by every route.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type WatchCreateRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode,omitempty"`
	CronSpec string `json:"cron_spec"`
}

type WatchUpdateRequest struct {
	Enabled bool `json:"enabled"`
}
