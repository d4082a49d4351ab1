package types

// LoadRequest is the payload for POST /models/load.
type LoadRequest struct {
	// Model identifier to load.
	// example: stable-diffusion-v1-5
	Model string `json:"model" example:"stable-diffusion-v1-5"`
}

// LoadResponse wraps the pipeline configuration returned by a successful load.
type LoadResponse struct {
	// Configuration of the now-resident pipeline.
	Config PipelineConfig `json:"config"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Current lifecycle state (idle, loading, loaded, unloading, cancelling, error).
	// example: loaded
	State string `json:"state" example:"loaded"`
	// ID of the resident model, empty when none.
	// example: stable-diffusion-v1-5
	ModelID string `json:"model_id,omitempty" example:"stable-diffusion-v1-5"`
	// ID of the model currently loading, empty when no load is in flight.
	LoadingModelID string `json:"loading_model_id,omitempty"`
	// Configuration of the resident pipeline, when loaded.
	Config *PipelineConfig `json:"config,omitempty"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Accelerator backing pipeline memory (e.g., cuda, mps, none).
	// example: none
	Accelerator string `json:"accelerator" example:"none"`
	// Total number of completed loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of cancelled load attempts.
	// example: 2
	CancelsTotal uint64 `json:"cancels_total" example:"2"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
