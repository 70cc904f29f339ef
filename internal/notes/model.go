package notes

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// NoteType discriminates plain text notes from checklists.
type NoteType string

const (
	// NoteTypeText is a free-form text note.
	NoteTypeText NoteType = "text"
	// NoteTypeChecklist is a note backed by a list of checkable items.
	NoteTypeChecklist NoteType = "checklist"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidFolderID indicates that a folder identifier is empty or exceeds storage bounds.
	ErrInvalidFolderID = errors.New("notes: invalid folder id")
	// ErrInvalidNoteType indicates an unknown note type tag.
	ErrInvalidNoteType = errors.New("notes: invalid note type")
)

// ParseNoteType validates a raw note type tag.
func ParseNoteType(rawInput string) (NoteType, error) {
	switch NoteType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case NoteTypeText:
		return NoteTypeText, nil
	case NoteTypeChecklist:
		return NoteTypeChecklist, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNoteType, rawInput)
	}
}

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// FolderID represents a validated folder identifier.
type FolderID string

// NewFolderID validates raw input and returns a FolderID.
func NewFolderID(rawInput string) (FolderID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFolderID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidFolderID, maxIdentifierLength)
	}
	return FolderID(trimmed), nil
}

// String returns the underlying string identifier.
func (id FolderID) String() string {
	return string(id)
}

// ChecklistItem is one entry of a checklist note.
type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Note models a persisted note owned by a single account.
type Note struct {
	NoteID           string                             `gorm:"column:note_id;primaryKey;size:190;not null"`
	UserID           string                             `gorm:"column:user_id;size:190;not null;index:idx_notes_user_updated,priority:1"`
	Title            string                             `gorm:"column:title;size:500;not null"`
	Content          string                             `gorm:"column:content;type:text;not null;default:''"`
	NoteType         string                             `gorm:"column:note_type;size:16;not null"`
	ChecklistItems   datatypes.JSONSlice[ChecklistItem] `gorm:"column:checklist_items"`
	Tags             datatypes.JSONSlice[string]        `gorm:"column:tags"`
	FolderID         *string                            `gorm:"column:folder_id;size:190;index"`
	CreatedAtSeconds int64                              `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64                              `gorm:"column:updated_at_s;not null;index:idx_notes_user_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Folder models a persisted folder owned by a single account, optionally
// nested under another folder of the same owner.
type Folder struct {
	FolderID         string  `gorm:"column:folder_id;primaryKey;size:190;not null"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index"`
	Name             string  `gorm:"column:name;size:255;not null"`
	ParentFolderID   *string `gorm:"column:parent_folder_id;size:190;index"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Folder) TableName() string {
	return "folders"
}

// TreeNode is one folder in the nested folder view.
type TreeNode struct {
	Folder   Folder
	Children []*TreeNode
}

// CreateNoteRequest carries the fields accepted when creating a note.
type CreateNoteRequest struct {
	Title          string
	Content        string
	NoteType       string
	ChecklistItems []ChecklistItem
	Tags           []string
	FolderID       *string
}

// UpdateNoteRequest carries the optional fields of a note update. Nil fields
// are left unchanged; an empty FolderID clears the folder assignment.
type UpdateNoteRequest struct {
	Title          *string
	Content        *string
	NoteType       *string
	ChecklistItems *[]ChecklistItem
	Tags           *[]string
	FolderID       *string
}

// CreateFolderRequest carries the fields accepted when creating a folder.
type CreateFolderRequest struct {
	Name           string
	ParentFolderID *string
}

// UpdateFolderRequest carries the optional fields of a folder update. Nil
// fields are left unchanged; an empty ParentFolderID moves the folder to the
// top level.
type UpdateFolderRequest struct {
	Name           *string
	ParentFolderID *string
}

// normalizeTags trims entries, drops empties, and deduplicates while keeping
// first-seen order.
func normalizeTags(rawTags []string) []string {
	if len(rawTags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(rawTags))
	tags := make([]string, 0, len(rawTags))
	for _, rawTag := range rawTags {
		tag := strings.TrimSpace(rawTag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}
