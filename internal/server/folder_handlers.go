package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nestnotes/backend/internal/notes"
)

type folderPayload struct {
	FolderID         string  `json:"folder_id"`
	UserID           string  `json:"user_id"`
	Name             string  `json:"name"`
	ParentFolderID   *string `json:"parent_folder_id,omitempty"`
	CreatedAtSeconds int64   `json:"created_at_s"`
	UpdatedAtSeconds int64   `json:"updated_at_s"`
}

type folderTreePayload struct {
	folderPayload
	Children []folderTreePayload `json:"children"`
}

func folderView(record notes.Folder) folderPayload {
	return folderPayload{
		FolderID:         record.FolderID,
		UserID:           record.UserID,
		Name:             record.Name,
		ParentFolderID:   record.ParentFolderID,
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
}

func folderTreeView(nodes []*notes.TreeNode) []folderTreePayload {
	payloads := make([]folderTreePayload, 0, len(nodes))
	for _, node := range nodes {
		payloads = append(payloads, folderTreePayload{
			folderPayload: folderView(node.Folder),
			Children:      folderTreeView(node.Children),
		})
	}
	return payloads
}

type createFolderRequestPayload struct {
	Name           string  `json:"name"`
	ParentFolderID *string `json:"parent_folder_id"`
}

type updateFolderRequestPayload struct {
	Name           *string `json:"name"`
	ParentFolderID *string `json:"parent_folder_id"`
}

func (h *httpHandler) handleCreateFolder(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createFolderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	folder, err := h.folders.Create(c.Request.Context(), viewer, notes.CreateFolderRequest{
		Name:           request.Name,
		ParentFolderID: request.ParentFolderID,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"folder": folderView(folder)})
}

func (h *httpHandler) handleListFolders(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	records, err := h.folders.List(c.Request.Context(), viewer, c.Query("user_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]folderPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, folderView(record))
	}
	c.JSON(http.StatusOK, gin.H{"folders": payloads})
}

func (h *httpHandler) handleFolderTree(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	roots, err := h.folders.Tree(c.Request.Context(), viewer, c.Query("user_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tree": folderTreeView(roots)})
}

func (h *httpHandler) handleGetFolder(c *gin.Context) {
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

	folder, err := h.folders.Get(c.Request.Context(), viewer, folderID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"folder": folderView(folder)})
}

func (h *httpHandler) handleUpdateFolder(c *gin.Context) {
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

	var request updateFolderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	folder, err := h.folders.Update(c.Request.Context(), viewer, folderID, notes.UpdateFolderRequest{
		Name:           request.Name,
		ParentFolderID: request.ParentFolderID,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"folder": folderView(folder)})
}

func (h *httpHandler) handleDeleteFolder(c *gin.Context) {
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

	if err := h.folders.Delete(c.Request.Context(), viewer, folderID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
