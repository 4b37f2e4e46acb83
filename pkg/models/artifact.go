package models

// ArtifactMeta describes a file or object produced by a successful WRITE or
// DESTRUCTIVE tool call.
type ArtifactMeta struct {
	ID             ArtifactID `json:"id"`
	Path           string     `json:"path"`             // Relative path or URI of the artifact
	SHA256         string     `json:"sha256"`           // Content hash
	ProducedByTask TaskID     `json:"produced_by_task"` // Task whose tool call created it
	MediaType      string     `json:"media_type"`
}
