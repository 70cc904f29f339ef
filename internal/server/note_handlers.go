package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/notes"
)

type notePayload struct {
	NoteID           string                `json:"note_id"`
	UserID           string                `json:"user_id"`
	OwnerName        string                `json:"owner_name,omitempty"`
	Title            string                `json:"title"`
	Content          string                `json:"content"`
	NoteType         string                `json:"note_type"`
	ChecklistItems   []notes.ChecklistItem `json:"checklist_items"`
	Tags             []string              `json:"tags"`
	FolderID         *string               `json:"folder_id,omitempty"`
	CreatedAtSeconds int64                 `json:"created_at_s"`
	UpdatedAtSeconds int64                 `json:"updated_at_s"`
}

func noteView(record notes.Note, ownerNames map[string]string) notePayload {
	items := []notes.ChecklistItem(record.ChecklistItems)
	if items == nil {
		items = []notes.ChecklistItem{}
	}
	tags := []string(record.Tags)
	if tags == nil {
		tags = []string{}
	}
	return notePayload{
		NoteID:           record.NoteID,
		UserID:           record.UserID,
		OwnerName:        ownerNames[record.UserID],
		Title:            record.Title,
		Content:          record.Content,
		NoteType:         record.NoteType,
		ChecklistItems:   items,
		Tags:             tags,
		FolderID:         record.FolderID,
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
}

type createNoteRequestPayload struct {
	Title          string                `json:"title"`
	Content        string                `json:"content"`
	NoteType       string                `json:"note_type"`
	ChecklistItems []notes.ChecklistItem `json:"checklist_items"`
	Tags           []string              `json:"tags"`
	FolderID       *string               `json:"folder_id"`
}

type updateNoteRequestPayload struct {
	Title          *string                `json:"title"`
	Content        *string                `json:"content"`
	NoteType       *string                `json:"note_type"`
	ChecklistItems *[]notes.ChecklistItem `json:"checklist_items"`
	Tags           *[]string              `json:"tags"`
	FolderID       *string                `json:"folder_id"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notes.Create(c.Request.Context(), viewer, notes.CreateNoteRequest{
		Title:          request.Title,
		Content:        request.Content,
		NoteType:       request.NoteType,
		ChecklistItems: request.ChecklistItems,
		Tags:           request.Tags,
		FolderID:       request.FolderID,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"note": noteView(note, nil)})
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var (
		records []notes.Note
		err     error
	)
	switch {
	case c.Query("folder_id") != "":
		folderID, parseErr := notes.NewFolderID(c.Query("folder_id"))
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_folder_id"})
			return
		}
		records, err = h.notes.ListByFolder(c.Request.Context(), viewer, folderID)
	case c.Query("tag") != "":
		records, err = h.notes.ListByTag(c.Request.Context(), viewer, c.Query("tag"), c.Query("user_id"))
	default:
		records, err = h.notes.List(c.Request.Context(), viewer, c.Query("user_id"))
	}
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.respondNoteList(c, viewer, records)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	noteID, err := notes.NewNoteID(c.Param("note_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	note, err := h.notes.Get(c.Request.Context(), viewer, noteID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	ownerNames := h.ownerNames(c, viewer, []notes.Note{note})
	c.JSON(http.StatusOK, gin.H{"note": noteView(note, ownerNames)})
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	noteID, err := notes.NewNoteID(c.Param("note_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	var request updateNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notes.Update(c.Request.Context(), viewer, noteID, notes.UpdateNoteRequest{
		Title:          request.Title,
		Content:        request.Content,
		NoteType:       request.NoteType,
		ChecklistItems: request.ChecklistItems,
		Tags:           request.Tags,
		FolderID:       request.FolderID,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"note": noteView(note, nil)})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	noteID, err := notes.NewNoteID(c.Param("note_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	if err := h.notes.Delete(c.Request.Context(), viewer, noteID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleNotesByFolder(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	folderID, err := notes.NewFolderID(c.Param("folder_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_folder_id"})
		return
	}

	records, err := h.notes.ListByFolder(c.Request.Context(), viewer, folderID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.respondNoteList(c, viewer, records)
}

func (h *httpHandler) handleNotesByTag(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	records, err := h.notes.ListByTag(c.Request.Context(), viewer, c.Param("tag"), c.Query("user_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.respondNoteList(c, viewer, records)
}

func (h *httpHandler) handleDistinctTags(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	tags, err := h.notes.DistinctTags(c.Request.Context(), viewer, c.Query("user_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func (h *httpHandler) respondNoteList(c *gin.Context, viewer accounts.Record, records []notes.Note) {
	ownerNames := h.ownerNames(c, viewer, records)
	payloads := make([]notePayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, noteView(record, ownerNames))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payloads})
}

// ownerNames resolves display names for notes a parent reads across linked
// children. Lookup failures degrade to unlabeled notes rather than erroring.
func (h *httpHandler) ownerNames(c *gin.Context, viewer accounts.Record, records []notes.Note) map[string]string {
	if viewer.Role != accounts.RoleParent || len(records) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, record := range records {
		if record.UserID == viewer.ID {
			continue
		}
		if _, dup := seen[record.UserID]; dup {
			continue
		}
		seen[record.UserID] = struct{}{}
		ids = append(ids, record.UserID)
	}
	if len(ids) == 0 {
		return nil
	}

	owners, err := h.accounts.FindByIDs(c.Request.Context(), ids)
	if err != nil {
		h.logger.Warn("note owner lookup failed", zap.Error(err))
		return nil
	}
	names := make(map[string]string, len(owners))
	for _, owner := range owners {
		names[owner.ID] = owner.DisplayName
	}
	return names
}
