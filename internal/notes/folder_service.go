package notes

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nestnotes/backend/internal/access"
	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/fault"
)

const (
	opFolderServiceNew = "folders.service.new"
	opCreateFolder     = "folders.create"
	opListFolders      = "folders.list"
	opGetFolder        = "folders.get"
	opUpdateFolder     = "folders.update"
	opDeleteFolder     = "folders.delete"
	opFolderTree       = "folders.tree"
)

const (
	reasonInvalidName         = "invalid_name"
	reasonParentFolderMissing = "parent_folder_not_found"
	reasonCyclicReference     = "cyclic_reference"
	reasonHasDependents       = "has_dependents"
)

type FolderServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// FolderService owns folder persistence, including the structural rules that
// keep the nesting acyclic and deletions non-cascading.
type FolderService struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewFolderService(cfg FolderServiceConfig) (*FolderService, error) {
	if cfg.Database == nil {
		return nil, fault.New(fault.Internal, opFolderServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.New(fault.Internal, opFolderServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &FolderService{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a new folder owned by the viewer, optionally nested under
// another folder of the same owner. Only child accounts own folders.
func (s *FolderService) Create(ctx context.Context, viewer accounts.Record, request CreateFolderRequest) (Folder, error) {
	if viewer.Role != accounts.RoleChild {
		return Folder{}, fault.New(fault.Forbidden, opCreateFolder, reasonRoleMismatch, nil)
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		return Folder{}, fault.New(fault.Validation, opCreateFolder, reasonInvalidName, nil)
	}

	var parentFolderID *string
	if request.ParentFolderID != nil && strings.TrimSpace(*request.ParentFolderID) != "" {
		parent, err := s.ownedFolder(ctx, s.db, opCreateFolder, viewer, strings.TrimSpace(*request.ParentFolderID))
		if err != nil {
			return Folder{}, err
		}
		parentFolderID = &parent.FolderID
	}

	folderID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateFolder, reasonIDGeneration, err, zap.String("user_id", viewer.ID))
		return Folder{}, fault.New(fault.Internal, opCreateFolder, reasonIDGeneration, err)
	}

	now := s.clock().UTC().Unix()
	folder := Folder{
		FolderID:         folderID,
		UserID:           viewer.ID,
		Name:             name,
		ParentFolderID:   parentFolderID,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&folder).Error; err != nil {
		s.logError(opCreateFolder, reasonSaveFailed, err, zap.String("user_id", viewer.ID))
		return Folder{}, fault.New(fault.Unavailable, opCreateFolder, reasonSaveFailed, err)
	}
	return folder, nil
}

// List returns the folders of the requested owner, or of the viewer's default
// scope when no owner is requested.
func (s *FolderService) List(ctx context.Context, viewer accounts.Record, ownerID string) ([]Folder, error) {
	ownerIDs, err := visibleOwnerIDs(opListFolders, viewer, ownerID)
	if err != nil {
		return nil, err
	}
	if len(ownerIDs) == 0 {
		return []Folder{}, nil
	}

	var records []Folder
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", ownerIDs).
		Order("name ASC").
		Find(&records).Error; err != nil {
		s.logError(opListFolders, reasonQueryFailed, err, zap.String("viewer_id", viewer.ID))
		return nil, fault.New(fault.Unavailable, opListFolders, reasonQueryFailed, err)
	}
	return records, nil
}

// Get returns one folder if the viewer may read it.
func (s *FolderService) Get(ctx context.Context, viewer accounts.Record, folderID FolderID) (Folder, error) {
	folder, err := s.loadFolder(ctx, s.db, opGetFolder, folderID.String())
	if err != nil {
		return Folder{}, err
	}
	if err := access.RequireRead(opGetFolder, viewer, folder.UserID); err != nil {
		return Folder{}, err
	}
	return folder, nil
}

// Update renames or reparents a folder the viewer owns. Reparenting rejects
// any assignment that would close a cycle, including across multiple levels.
func (s *FolderService) Update(ctx context.Context, viewer accounts.Record, folderID FolderID, request UpdateFolderRequest) (Folder, error) {
	var updated Folder
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var folder Folder
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("folder_id = ?", folderID.String()).
			Take(&folder).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.New(fault.NotFound, opUpdateFolder, reasonFolderNotFound, nil)
		}
		if err != nil {
			s.logError(opUpdateFolder, reasonQueryFailed, err, zap.String("folder_id", folderID.String()))
			return fault.New(fault.Unavailable, opUpdateFolder, reasonQueryFailed, err)
		}
		if err := access.RequireWrite(opUpdateFolder, viewer, folder.UserID); err != nil {
			return err
		}

		if request.Name != nil {
			name := strings.TrimSpace(*request.Name)
			if name == "" {
				return fault.New(fault.Validation, opUpdateFolder, reasonInvalidName, nil)
			}
			folder.Name = name
		}
		if request.ParentFolderID != nil {
			target := strings.TrimSpace(*request.ParentFolderID)
			if target == "" {
				folder.ParentFolderID = nil
			} else {
				if target == folder.FolderID {
					return fault.New(fault.Conflict, opUpdateFolder, reasonCyclicReference, nil)
				}
				parent, err := s.ownedFolder(ctx, tx, opUpdateFolder, viewer, target)
				if err != nil {
					return err
				}
				cycles, err := s.wouldCycle(ctx, tx, folder.FolderID, parent)
				if err != nil {
					return err
				}
				if cycles {
					return fault.New(fault.Conflict, opUpdateFolder, reasonCyclicReference, nil)
				}
				folder.ParentFolderID = &parent.FolderID
			}
		}

		folder.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&folder).Error; err != nil {
			s.logError(opUpdateFolder, reasonSaveFailed, err, zap.String("folder_id", folderID.String()))
			return fault.New(fault.Unavailable, opUpdateFolder, reasonSaveFailed, err)
		}
		updated = folder
		return nil
	})
	if txErr != nil {
		return Folder{}, txErr
	}
	return updated, nil
}

// Delete removes an empty folder the viewer owns. Folders still referenced by
// a subfolder or a note are left untouched.
func (s *FolderService) Delete(ctx context.Context, viewer accounts.Record, folderID FolderID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var folder Folder
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("folder_id = ?", folderID.String()).
			Take(&folder).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.New(fault.NotFound, opDeleteFolder, reasonFolderNotFound, nil)
		}
		if err != nil {
			s.logError(opDeleteFolder, reasonQueryFailed, err, zap.String("folder_id", folderID.String()))
			return fault.New(fault.Unavailable, opDeleteFolder, reasonQueryFailed, err)
		}
		if err := access.RequireWrite(opDeleteFolder, viewer, folder.UserID); err != nil {
			return err
		}

		var subfolderCount int64
		if err := tx.Model(&Folder{}).
			Where("parent_folder_id = ?", folder.FolderID).
			Count(&subfolderCount).Error; err != nil {
			s.logError(opDeleteFolder, reasonQueryFailed, err, zap.String("folder_id", folderID.String()))
			return fault.New(fault.Unavailable, opDeleteFolder, reasonQueryFailed, err)
		}
		var noteCount int64
		if err := tx.Model(&Note{}).
			Where("folder_id = ?", folder.FolderID).
			Count(&noteCount).Error; err != nil {
			s.logError(opDeleteFolder, reasonQueryFailed, err, zap.String("folder_id", folderID.String()))
			return fault.New(fault.Unavailable, opDeleteFolder, reasonQueryFailed, err)
		}
		if subfolderCount > 0 || noteCount > 0 {
			return fault.New(fault.Conflict, opDeleteFolder, reasonHasDependents, nil)
		}

		if err := tx.Delete(&Folder{}, "folder_id = ?", folder.FolderID).Error; err != nil {
			s.logError(opDeleteFolder, reasonDeleteFailed, err, zap.String("folder_id", folderID.String()))
			return fault.New(fault.Unavailable, opDeleteFolder, reasonDeleteFailed, err)
		}
		return nil
	})
}

// Tree returns the visible folders as a nested forest. A folder whose parent
// no longer exists is surfaced at the top level rather than dropped.
func (s *FolderService) Tree(ctx context.Context, viewer accounts.Record, ownerID string) ([]*TreeNode, error) {
	folders, err := s.List(ctx, viewer, ownerID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*TreeNode, len(folders))
	for _, folder := range folders {
		nodes[folder.FolderID] = &TreeNode{Folder: folder}
	}

	roots := make([]*TreeNode, 0, len(folders))
	for _, folder := range folders {
		node := nodes[folder.FolderID]
		if folder.ParentFolderID != nil && *folder.ParentFolderID != folder.FolderID {
			if parent, ok := nodes[*folder.ParentFolderID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortTreeNodes(roots)
	return roots, nil
}

func sortTreeNodes(nodes []*TreeNode) {
	sort.Slice(nodes, func(left, right int) bool {
		if nodes[left].Folder.Name != nodes[right].Folder.Name {
			return nodes[left].Folder.Name < nodes[right].Folder.Name
		}
		return nodes[left].Folder.FolderID < nodes[right].Folder.FolderID
	})
	for _, node := range nodes {
		sortTreeNodes(node.Children)
	}
}

// wouldCycle reports whether parenting folderID under newParent would close a
// loop. It walks the ancestor chain of the new parent; a chain that revisits
// a folder or reaches folderID cycles, a chain that dangles does not.
func (s *FolderService) wouldCycle(ctx context.Context, tx *gorm.DB, folderID string, newParent Folder) (bool, error) {
	if newParent.FolderID == folderID {
		return true, nil
	}
	visited := map[string]bool{newParent.FolderID: true}
	current := newParent.ParentFolderID
	for current != nil {
		if *current == folderID {
			return true, nil
		}
		if visited[*current] {
			return true, nil
		}
		visited[*current] = true

		var ancestor Folder
		err := tx.WithContext(ctx).Where("folder_id = ?", *current).Take(&ancestor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			s.logError(opUpdateFolder, reasonQueryFailed, err, zap.String("folder_id", *current))
			return false, fault.New(fault.Unavailable, opUpdateFolder, reasonQueryFailed, err)
		}
		current = ancestor.ParentFolderID
	}
	return false, nil
}

// loadFolder fetches a folder by id, mapping a missing row to a coded fault.
func (s *FolderService) loadFolder(ctx context.Context, tx *gorm.DB, operation string, folderID string) (Folder, error) {
	var folder Folder
	err := tx.WithContext(ctx).Where("folder_id = ?", folderID).Take(&folder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Folder{}, fault.New(fault.NotFound, operation, reasonFolderNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("folder_id", folderID))
		return Folder{}, fault.New(fault.Unavailable, operation, reasonQueryFailed, err)
	}
	return folder, nil
}

// ownedFolder fetches a folder and requires it to belong to the viewer.
func (s *FolderService) ownedFolder(ctx context.Context, tx *gorm.DB, operation string, viewer accounts.Record, folderID string) (Folder, error) {
	folder, err := s.loadFolder(ctx, tx, operation, folderID)
	if err != nil {
		if fault.KindOf(err) == fault.NotFound {
			return Folder{}, fault.New(fault.NotFound, operation, reasonParentFolderMissing, nil)
		}
		return Folder{}, err
	}
	if folder.UserID != viewer.ID {
		return Folder{}, fault.New(fault.NotFound, operation, reasonParentFolderMissing, nil)
	}
	return folder, nil
}

func (s *FolderService) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *FolderService) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("folders service error", attrs...)
}
