package model

type LoadRequest struct {
	Path string `json:"path"`
}

type SeekRequest struct {
	Seconds float64 `json:"seconds"`
}

type TempoRequest struct {
	BPM float64 `json:"bpm"`
}

type LoopRequest struct {
	Loop bool `json:"loop"`
}

type VolumeRequest struct {
	Volume float64 `json:"volume"`
}

type StatusResponse struct {
	State    string   `json:"state"`
	Position float64  `json:"position"`
	Duration float64  `json:"duration"`
	Tempo    float64  `json:"tempo"`
	Loop     bool     `json:"loop"`
	Title    string   `json:"title"`
	Warnings []string `json:"warnings,omitempty"`
}

type SaveResponse struct {
	ID string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"detail"`
}
