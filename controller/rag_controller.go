package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/itish2003/memory-engine/models"
	"github.com/itish2003/memory-engine/services"
)

// RAGController handles the HTTP requests for the notes and query API. It
// depends on the RAGService to perform the actual business logic.
type RAGController struct {
	ragService services.RAGService
}

// NewRAGController creates a new RAGController.
func NewRAGController(service services.RAGService) *RAGController {
	return &RAGController{
		ragService: service,
	}
}

// Register mounts the controller's routes on r.
func Register(r gin.IRouter, c *RAGController) {
	r.POST("/notes", c.IngestNote)
	r.GET("/notes", c.GetAllNotes)
	r.GET("/notes/:id", c.GetNote)
	r.PUT("/notes/:id", c.UpdateNote)
	r.DELETE("/notes/:id", c.DeleteNote)
	r.POST("/query", c.QueryRAG)
	r.GET("/test-chroma", c.TestChroma)
}

var notFoundBody = gin.H{"error": "Note not found"}

// IngestNote handles POST /notes.
func (c *RAGController) IngestNote(ctx *gin.Context) {
	var req models.CreateNoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	resp, err := c.ragService.IngestNote(ctx.Request.Context(), req)
	switch {
	case errors.Is(err, services.ErrInvalidNote):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	case errors.Is(err, services.ErrNoteIDConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest note: " + err.Error()})
		return
	}

	ctx.JSON(http.StatusCreated, resp)
}

// GetAllNotes handles GET /notes.
func (c *RAGController) GetAllNotes(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}

	resp, err := c.ragService.GetAllNotes(ctx.Request.Context(), userID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve notes: " + err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// GetNote handles GET /notes/:id. The id may name a note or one of its chunks.
func (c *RAGController) GetNote(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}

	note, err := c.ragService.GetNote(ctx.Request.Context(), ctx.Param("id"), userID)
	switch {
	case errors.Is(err, services.ErrNoteNotFound):
		ctx.JSON(http.StatusOK, notFoundBody)
		return
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve note: " + err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, note)
}

// UpdateNote handles PUT /notes/:id.
func (c *RAGController) UpdateNote(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	var req models.UpdateNoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	resp, err := c.ragService.UpdateNote(ctx.Request.Context(), ctx.Param("id"), userID, req)
	switch {
	case errors.Is(err, services.ErrNoteNotFound):
		ctx.JSON(http.StatusOK, notFoundBody)
		return
	case errors.Is(err, services.ErrInvalidNote):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update note: " + err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// DeleteNote handles DELETE /notes/:id.
func (c *RAGController) DeleteNote(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}

	resp, err := c.ragService.DeleteNote(ctx.Request.Context(), ctx.Param("id"), userID)
	switch {
	case errors.Is(err, services.ErrNoteNotFound):
		ctx.JSON(http.StatusOK, notFoundBody)
		return
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete note: " + err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// QueryRAG handles POST /query.
func (c *RAGController) QueryRAG(ctx *gin.Context) {
	var req models.QueryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	resp, err := c.ragService.QueryRAG(ctx.Request.Context(), req)
	switch {
	case errors.Is(err, services.ErrInvalidQuery):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	case err != nil:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Query failed: " + err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// TestChroma handles GET /test-chroma with the store diagnostics.
func (c *RAGController) TestChroma(ctx *gin.Context) {
	resp, err := c.ragService.Diagnostics(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, models.DiagnosticsResponse{
			Status:  "error",
			Message: "Vector store connection failed: " + err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// requireUserID reads the user_id query parameter, answering 400 when it is blank.
func requireUserID(ctx *gin.Context) (string, bool) {
	userID := strings.TrimSpace(ctx.Query("user_id"))
	if userID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return "", false
	}
	return userID, true
}
