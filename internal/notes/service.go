package notes

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nestnotes/backend/internal/access"
	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/fault"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew   = "notes.service.new"
	opCreateNote   = "notes.create"
	opListNotes    = "notes.list"
	opGetNote      = "notes.get"
	opUpdateNote   = "notes.update"
	opDeleteNote   = "notes.delete"
	opListByFolder = "notes.list_by_folder"
	opListByTag    = "notes.list_by_tag"
	opDistinctTags = "notes.distinct_tags"
)

const (
	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonRoleMismatch      = "role_mismatch"
	reasonInvalidTitle      = "invalid_title"
	reasonInvalidNoteType   = "invalid_note_type"
	reasonInvalidTag        = "invalid_tag"
	reasonNoteNotFound      = "note_not_found"
	reasonFolderNotFound    = "folder_not_found"
	reasonIDGeneration      = "id_generation_failed"
	reasonQueryFailed       = "query_failed"
	reasonSaveFailed        = "save_failed"
	reasonDeleteFailed      = "delete_failed"
)

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service owns note persistence. Reads are guarded by the membership link;
// writes always require ownership.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.New(fault.Internal, opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a new note owned by the viewer. Only child accounts own
// notes; parents get read access through the membership link instead.
func (s *Service) Create(ctx context.Context, viewer accounts.Record, request CreateNoteRequest) (Note, error) {
	if viewer.Role != accounts.RoleChild {
		return Note{}, fault.New(fault.Forbidden, opCreateNote, reasonRoleMismatch, nil)
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return Note{}, fault.New(fault.Validation, opCreateNote, reasonInvalidTitle, nil)
	}

	noteType := NoteTypeText
	if strings.TrimSpace(request.NoteType) != "" {
		parsed, err := ParseNoteType(request.NoteType)
		if err != nil {
			return Note{}, fault.New(fault.Validation, opCreateNote, reasonInvalidNoteType, err)
		}
		noteType = parsed
	}

	var folderID *string
	if request.FolderID != nil && strings.TrimSpace(*request.FolderID) != "" {
		folder, err := s.ownedFolder(ctx, opCreateNote, viewer, strings.TrimSpace(*request.FolderID))
		if err != nil {
			return Note{}, err
		}
		folderID = &folder.FolderID
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, reasonIDGeneration, err, zap.String("user_id", viewer.ID))
		return Note{}, fault.New(fault.Internal, opCreateNote, reasonIDGeneration, err)
	}

	now := s.clock().UTC().Unix()
	note := Note{
		NoteID:           noteID,
		UserID:           viewer.ID,
		Title:            title,
		Content:          request.Content,
		NoteType:         string(noteType),
		ChecklistItems:   datatypes.NewJSONSlice(request.ChecklistItems),
		Tags:             datatypes.NewJSONSlice(normalizeTags(request.Tags)),
		FolderID:         folderID,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, reasonSaveFailed, err, zap.String("user_id", viewer.ID))
		return Note{}, fault.New(fault.Unavailable, opCreateNote, reasonSaveFailed, err)
	}
	return note, nil
}

// List returns the notes of the requested owner, or of the viewer's default
// scope when no owner is requested: a child sees its own notes, a parent sees
// the notes of every linked child.
func (s *Service) List(ctx context.Context, viewer accounts.Record, ownerID string) ([]Note, error) {
	ownerIDs, err := visibleOwnerIDs(opListNotes, viewer, ownerID)
	if err != nil {
		return nil, err
	}
	if len(ownerIDs) == 0 {
		return []Note{}, nil
	}

	var records []Note
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", ownerIDs).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logError(opListNotes, reasonQueryFailed, err, zap.String("viewer_id", viewer.ID))
		return nil, fault.New(fault.Unavailable, opListNotes, reasonQueryFailed, err)
	}
	return records, nil
}

// Get returns one note if the viewer may read it.
func (s *Service) Get(ctx context.Context, viewer accounts.Record, noteID NoteID) (Note, error) {
	note, err := s.loadNote(ctx, opGetNote, noteID)
	if err != nil {
		return Note{}, err
	}
	if err := access.RequireRead(opGetNote, viewer, note.UserID); err != nil {
		return Note{}, err
	}
	return note, nil
}

// Update applies the supplied changes to a note the viewer owns.
func (s *Service) Update(ctx context.Context, viewer accounts.Record, noteID NoteID, request UpdateNoteRequest) (Note, error) {
	note, err := s.loadNote(ctx, opUpdateNote, noteID)
	if err != nil {
		return Note{}, err
	}
	if err := access.RequireWrite(opUpdateNote, viewer, note.UserID); err != nil {
		return Note{}, err
	}

	if request.Title != nil {
		title := strings.TrimSpace(*request.Title)
		if title == "" {
			return Note{}, fault.New(fault.Validation, opUpdateNote, reasonInvalidTitle, nil)
		}
		note.Title = title
	}
	if request.Content != nil {
		note.Content = *request.Content
	}
	if request.NoteType != nil {
		parsed, err := ParseNoteType(*request.NoteType)
		if err != nil {
			return Note{}, fault.New(fault.Validation, opUpdateNote, reasonInvalidNoteType, err)
		}
		note.NoteType = string(parsed)
	}
	if request.ChecklistItems != nil {
		note.ChecklistItems = datatypes.NewJSONSlice(*request.ChecklistItems)
	}
	if request.Tags != nil {
		note.Tags = datatypes.NewJSONSlice(normalizeTags(*request.Tags))
	}
	if request.FolderID != nil {
		target := strings.TrimSpace(*request.FolderID)
		if target == "" {
			note.FolderID = nil
		} else {
			folder, err := s.ownedFolder(ctx, opUpdateNote, viewer, target)
			if err != nil {
				return Note{}, err
			}
			note.FolderID = &folder.FolderID
		}
	}

	note.UpdatedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(&note).Error; err != nil {
		s.logError(opUpdateNote, reasonSaveFailed, err, zap.String("note_id", noteID.String()))
		return Note{}, fault.New(fault.Unavailable, opUpdateNote, reasonSaveFailed, err)
	}
	return note, nil
}

// Delete removes a note the viewer owns.
func (s *Service) Delete(ctx context.Context, viewer accounts.Record, noteID NoteID) error {
	note, err := s.loadNote(ctx, opDeleteNote, noteID)
	if err != nil {
		return err
	}
	if err := access.RequireWrite(opDeleteNote, viewer, note.UserID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&Note{}, "note_id = ?", noteID.String()).Error; err != nil {
		s.logError(opDeleteNote, reasonDeleteFailed, err, zap.String("note_id", noteID.String()))
		return fault.New(fault.Unavailable, opDeleteNote, reasonDeleteFailed, err)
	}
	return nil
}

// ListByFolder returns the notes filed under one folder, if the viewer may
// read that folder's owner.
func (s *Service) ListByFolder(ctx context.Context, viewer accounts.Record, folderID FolderID) ([]Note, error) {
	var folder Folder
	err := s.db.WithContext(ctx).Where("folder_id = ?", folderID.String()).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.New(fault.NotFound, opListByFolder, reasonFolderNotFound, nil)
	}
	if err != nil {
		s.logError(opListByFolder, reasonQueryFailed, err, zap.String("folder_id", folderID.String()))
		return nil, fault.New(fault.Unavailable, opListByFolder, reasonQueryFailed, err)
	}
	if err := access.RequireRead(opListByFolder, viewer, folder.UserID); err != nil {
		return nil, err
	}

	var records []Note
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND folder_id = ?", folder.UserID, folder.FolderID).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logError(opListByFolder, reasonQueryFailed, err, zap.String("folder_id", folderID.String()))
		return nil, fault.New(fault.Unavailable, opListByFolder, reasonQueryFailed, err)
	}
	return records, nil
}

// ListByTag returns the visible notes carrying the tag.
func (s *Service) ListByTag(ctx context.Context, viewer accounts.Record, tag string, ownerID string) ([]Note, error) {
	trimmed := strings.TrimSpace(tag)
	if trimmed == "" {
		return nil, fault.New(fault.Validation, opListByTag, reasonInvalidTag, nil)
	}
	ownerIDs, err := visibleOwnerIDs(opListByTag, viewer, ownerID)
	if err != nil {
		return nil, err
	}
	if len(ownerIDs) == 0 {
		return []Note{}, nil
	}

	var records []Note
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", ownerIDs).
		Where(datatypes.JSONArrayQuery("tags").Contains(trimmed)).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logError(opListByTag, reasonQueryFailed, err, zap.String("tag", trimmed))
		return nil, fault.New(fault.Unavailable, opListByTag, reasonQueryFailed, err)
	}
	return records, nil
}

// DistinctTags returns the sorted set of tags across the visible notes.
func (s *Service) DistinctTags(ctx context.Context, viewer accounts.Record, ownerID string) ([]string, error) {
	ownerIDs, err := visibleOwnerIDs(opDistinctTags, viewer, ownerID)
	if err != nil {
		return nil, err
	}
	if len(ownerIDs) == 0 {
		return []string{}, nil
	}

	var records []Note
	if err := s.db.WithContext(ctx).
		Select("tags").
		Where("user_id IN ?", ownerIDs).
		Find(&records).Error; err != nil {
		s.logError(opDistinctTags, reasonQueryFailed, err, zap.String("viewer_id", viewer.ID))
		return nil, fault.New(fault.Unavailable, opDistinctTags, reasonQueryFailed, err)
	}

	seen := make(map[string]bool)
	tags := make([]string, 0)
	for _, record := range records {
		for _, tag := range record.Tags {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// loadNote fetches a note by id, mapping a missing row to a coded fault.
func (s *Service) loadNote(ctx context.Context, operation string, noteID NoteID) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID.String()).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, fault.New(fault.NotFound, operation, reasonNoteNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("note_id", noteID.String()))
		return Note{}, fault.New(fault.Unavailable, operation, reasonQueryFailed, err)
	}
	return note, nil
}

// ownedFolder fetches a folder and requires it to belong to the viewer.
// Folders of other owners are reported as missing rather than forbidden.
func (s *Service) ownedFolder(ctx context.Context, operation string, viewer accounts.Record, folderID string) (Folder, error) {
	var folder Folder
	err := s.db.WithContext(ctx).Where("folder_id = ?", folderID).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Folder{}, fault.New(fault.NotFound, operation, reasonFolderNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("folder_id", folderID))
		return Folder{}, fault.New(fault.Unavailable, operation, reasonQueryFailed, err)
	}
	if folder.UserID != viewer.ID {
		return Folder{}, fault.New(fault.NotFound, operation, reasonFolderNotFound, nil)
	}
	return folder, nil
}

// visibleOwnerIDs resolves which owners' resources a request may see. An
// explicit owner is checked against the membership link; otherwise a parent
// defaults to its linked children and everyone else to themselves.
func visibleOwnerIDs(operation string, viewer accounts.Record, requestedOwner string) ([]string, error) {
	if requestedOwner != "" {
		if err := access.RequireRead(operation, viewer, requestedOwner); err != nil {
			return nil, err
		}
		return []string{requestedOwner}, nil
	}
	if viewer.Role == accounts.RoleParent {
		return viewer.ChildrenIDs, nil
	}
	return []string{viewer.ID}, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
