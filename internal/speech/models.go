package speech

// GenerateRequest is the body of POST /api/v1/generate.
type GenerateRequest struct {
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
	Format  string  `json:"format"`
}

type GenerateResponse struct {
	URL      string  `json:"url"`
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
}
