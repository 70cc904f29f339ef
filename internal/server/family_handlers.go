package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nestnotes/backend/internal/family"
)

type generateCodeRequestPayload struct {
	ExpiresInDays *int `json:"expires_in_days"`
}

type joinFamilyRequestPayload struct {
	FamilyCode string `json:"family_code"`
}

type linkChildRequestPayload struct {
	ChildEmail string `json:"child_email"`
}

type childPayload struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	DisplayName      string `json:"display_name"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func childView(summary family.ChildSummary) childPayload {
	return childPayload{
		ID:               summary.ID,
		Email:            summary.Email,
		DisplayName:      summary.DisplayName,
		CreatedAtSeconds: summary.CreatedAt.Unix(),
	}
}

func unixOrNil(moment *time.Time) *int64 {
	if moment == nil {
		return nil
	}
	seconds := moment.Unix()
	return &seconds
}

func (h *httpHandler) handleGenerateCode(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request generateCodeRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	grant, err := h.family.RegenerateCode(c.Request.Context(), viewer, request.ExpiresInDays)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"family_code":              grant.Code,
		"family_code_expires_at_s": unixOrNil(grant.ExpiresAt),
	})
}

func (h *httpHandler) handleJoinFamily(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request joinFamilyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	link, err := h.family.Join(c.Request.Context(), viewer, request.FamilyCode)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"parent_id":   link.ParentID,
		"parent_name": link.ParentName,
	})
}

func (h *httpHandler) handleLeaveFamily(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.family.Leave(c.Request.Context(), viewer); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveChild(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.family.RemoveChild(c.Request.Context(), viewer, c.Param("child_id")); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLinkChild(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request linkChildRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	child, err := h.family.LinkChildByEmail(c.Request.Context(), viewer, request.ChildEmail)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"child": childView(child)})
}

func (h *httpHandler) handleDashboard(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	view, err := h.family.Dashboard(c.Request.Context(), viewer)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	children := make([]childPayload, 0, len(view.Children))
	for _, child := range view.Children {
		children = append(children, childView(child))
	}

	c.JSON(http.StatusOK, gin.H{
		"family_code":              view.FamilyCode,
		"family_code_expires_at_s": unixOrNil(view.FamilyCodeExpiresAt),
		"children":                 children,
	})
}

func (h *httpHandler) handleMyParent(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, err := h.family.MyParent(c.Request.Context(), viewer)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := gin.H{"parent": nil}
	if status.Parent != nil {
		response["parent"] = gin.H{
			"id":           status.Parent.ID,
			"email":        status.Parent.Email,
			"display_name": status.Parent.DisplayName,
		}
	}
	if status.Message != "" {
		response["message"] = status.Message
	}

	c.JSON(http.StatusOK, response)
}
