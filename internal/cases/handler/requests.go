package handler

import (
	"strings"

	"civicwatch/internal/cases/models"
	dErrors "civicwatch/pkg/domain-errors"
)

// CreateCaseRequest is the body for POST /cases.
type CreateCaseRequest struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	ComplaintType string           `json:"complaint_type"`
	Location      *LocationRequest `json:"location,omitempty"`
	Anonymous     bool             `json:"is_anonymous"`

	parsedType models.ComplaintType
}

type LocationRequest struct {
	Text      string   `json:"text"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Validate implements httputil.Validatable.
func (r *CreateCaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Title) > 4*models.MaxTitleLength {
		return dErrors.New(dErrors.CodeValidation, "title is too long")
	}
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if strings.TrimSpace(r.Description) == "" {
		return dErrors.New(dErrors.CodeValidation, "description is required")
	}
	typ, err := models.ParseComplaintType(strings.ToLower(strings.TrimSpace(r.ComplaintType)))
	if err != nil {
		return err
	}
	r.parsedType = typ
	return nil
}

func (r *CreateCaseRequest) location() *models.Location {
	if r.Location == nil {
		return nil
	}
	return &models.Location{Text: r.Location.Text, Latitude: r.Location.Latitude, Longitude: r.Location.Longitude}
}

// TransitionRequest is the body for PATCH /cases/{id}/status.
type TransitionRequest struct {
	Status string `json:"status"`

	parsedStatus models.Status
}

func (r *TransitionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	st, err := models.ParseStatus(strings.ToLower(strings.TrimSpace(r.Status)))
	if err != nil {
		return err
	}
	r.parsedStatus = st
	return nil
}

// NoteRequest is the body for POST /cases/{id}/notes.
type NoteRequest struct {
	Content string `json:"content"`
}

func (r *NoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return dErrors.New(dErrors.CodeValidation, "content is required")
	}
	return nil
}
