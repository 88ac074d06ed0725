package model

type ConvertRequestBody struct {
	Text   string `json:"text"`
	Strict bool   `json:"strict"`
}

type ConvertResponse struct {
	Output      string       `json:"output"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type ErrorResponse struct {
	Error string `json:"detail"`
	// Kind names the failing stage, e.g. "lex", "parse", "markup".
	Kind string `json:"kind,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
