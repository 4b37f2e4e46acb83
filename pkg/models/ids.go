package models

import "github.com/google/uuid"

// RunID uniquely identifies one workflow execution.
type RunID string

// TaskID uniquely identifies a task within a workflow graph.
type TaskID string

// ToolCallID uniquely identifies a single tool invocation.
type ToolCallID string

// ArtifactID uniquely identifies a produced artifact.
type ArtifactID string

// NewRunID generates a fresh RunID.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// NewToolCallID generates a fresh ToolCallID.
func NewToolCallID() ToolCallID {
	return ToolCallID(uuid.NewString())
}

// NewArtifactID generates a fresh ArtifactID.
func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.NewString())
}
