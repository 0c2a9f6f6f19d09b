package domain

type AssetState string

const (
	AssetPresent AssetState = "present"
	AssetMissing AssetState = "missing"
	AssetCorrupt AssetState = "corrupt"
)

// AssetDescriptor describes one model file a job needs on disk before it can run.
// MinBytes is the smallest plausible size of a complete file; anything below it is corrupt.
type AssetDescriptor struct {
	Name         string `json:"name" yaml:"name"`
	Category     string `json:"category" yaml:"category"`
	LocalPath    string `json:"local_path" yaml:"local_path"`
	RemoteURL    string `json:"remote_url" yaml:"remote_url"`
	RequiresAuth bool   `json:"requires_auth" yaml:"requires_auth"`
	MinBytes     int64  `json:"min_bytes" yaml:"min_bytes"`
}
