package types

// Model represents a discoverable diffusion model on disk, either a diffusers
// layout directory or a single-file checkpoint.
type Model struct {
	// Stable identifier for the model.
	// example: stable-diffusion-v1-5
	ID string `json:"id" example:"stable-diffusion-v1-5"`
	// Human-friendly name.
	// example: Stable Diffusion v1.5
	Name string `json:"name" example:"Stable Diffusion v1.5"`
	// Absolute path to the model directory or checkpoint file.
	// example: /home/user/models/stable-diffusion-v1-5
	Path string `json:"path" example:"/home/user/models/stable-diffusion-v1-5"`
	// Layout on disk: "diffusers" (directory) or "checkpoint" (single file).
	// example: diffusers
	Layout string `json:"layout,omitempty" example:"diffusers"`
}

// PipelineConfig is the configuration of a constructed pipeline, reported by
// its builder and cached while the pipeline is resident. A successful load
// returns it to the caller.
type PipelineConfig struct {
	// ID of the model backing the pipeline.
	// example: stable-diffusion-v1-5
	ModelID string `json:"model_id" example:"stable-diffusion-v1-5"`
	// Pipeline class resolved by the construction strategy.
	// example: StableDiffusionPipeline
	Class string `json:"class" example:"StableDiffusionPipeline"`
	// Weight variant, if one was selected (e.g., fp16).
	// example: fp16
	Variant string `json:"variant,omitempty" example:"fp16"`
	// Named components and their classes (diffusers layout) or tensor groups
	// (single-file checkpoint).
	Components map[string]string `json:"components,omitempty"`
	// Total size of the referenced weights in bytes.
	// example: 4265437440
	WeightBytes int64 `json:"weight_bytes,omitempty" example:"4265437440"`
}
