package models

import "time"

// Project statuses. The backend rejects anything else.
const (
	ProjectStatusActive    = "active"
	ProjectStatusCompleted = "completed"
	ProjectStatusArchived  = "archived"
)

// File types derived from which storage path a project carries.
const (
	FileTypeImage = "image"
	FileTypeAudio = "audio"
)

// Project represents an uploaded creative work subject to peer review.
// Exactly one of ImagePath/AudioPath is set and determines FileType.
type Project struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	ImagePath   *string   `json:"image_path,omitempty"`
	AudioPath   *string   `json:"audio_path,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Author is enriched client-side from the profiles table; it is not a
	// column on the projects table.
	Author *Profile `json:"author,omitempty"`
}

// FileType returns which kind of media the project holds.
func (p *Project) FileType() string {
	if p.AudioPath != nil && *p.AudioPath != "" {
		return FileTypeAudio
	}
	return FileTypeImage
}

// StoragePaths returns the storage object paths referenced by the project.
func (p *Project) StoragePaths() []string {
	var paths []string
	if p.ImagePath != nil && *p.ImagePath != "" {
		paths = append(paths, *p.ImagePath)
	}
	if p.AudioPath != nil && *p.AudioPath != "" {
		paths = append(paths, *p.AudioPath)
	}
	return paths
}

// ValidProjectStatus reports whether s is a status the backend accepts.
func ValidProjectStatus(s string) bool {
	switch s {
	case ProjectStatusActive, ProjectStatusCompleted, ProjectStatusArchived:
		return true
	}
	return false
}
