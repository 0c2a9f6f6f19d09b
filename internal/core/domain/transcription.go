package domain

// TranscriptionRequest is one audio file handed to the speech engine.
type TranscriptionRequest struct {
	Audio          []byte
	Filename       string
	Language       string
	Task           string // "transcribe" or "translate"
	WordTimestamps bool
}

type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}
