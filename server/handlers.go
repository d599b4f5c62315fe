package main

import (
	"net/http"
	"time"

	"github.com/aryan-ct/memedin/pkg/records"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"endpoints": s.hub.Count(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleListEmployees(c *gin.Context) {
	list, err := s.records.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list employees")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch employees"})
		return
	}
	if list == nil {
		list = []records.Record{}
	}
	c.JSON(http.StatusOK, list)
}

type createEmployeeRequest struct {
	Name     string `json:"name"`
	Caption  string `json:"caption"`
	ImageURL string `json:"imageUrl"`
}

func (s *Server) handleCreateEmployee(c *gin.Context) {
	var req createEmployeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and caption are required"})
		return
	}

	record, err := s.records.Create(c.Request.Context(), records.Record{
		Name:     req.Name,
		Caption:  req.Caption,
		ImageURL: req.ImageURL,
	})
	switch {
	case errors.Is(err, records.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and caption are required"})
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to create employee")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create employee"})
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleGetEmployee(c *gin.Context) {
	record, err := s.records.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Employee not found"})
		return
	case err != nil:
		log.Error().Err(err).Str("participant", c.Param("id")).Msg("Failed to fetch employee")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch employee"})
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) handleUpdateEmployee(c *gin.Context) {
	var patch records.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	record, err := s.records.Update(c.Request.Context(), c.Param("id"), patch)
	switch {
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Employee not found"})
		return
	case err != nil:
		log.Error().Err(err).Str("participant", c.Param("id")).Msg("Failed to update employee")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update employee"})
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) handleDeleteEmployee(c *gin.Context) {
	err := s.records.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Employee not found"})
		return
	case err != nil:
		log.Error().Err(err).Str("participant", c.Param("id")).Msg("Failed to delete employee")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete employee"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Employee deleted successfully"})
}

func (s *Server) handleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Snapshot())
}

type selectionRequest struct {
	ParticipantID string `json:"participantId"`
}

// handleSetSelection selects a participant; an empty id clears the selection
func (s *Server) handleSetSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := s.store.SetSelection(c.Request.Context(), req.ParticipantID); err != nil {
		log.Error().Err(err).Str("participant", req.ParticipantID).Msg("Failed to set selection")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update selection"})
		return
	}

	c.JSON(http.StatusOK, s.store.Snapshot())
}
