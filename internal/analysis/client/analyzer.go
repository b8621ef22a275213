package client

import (
	"context"
	"time"

	"civicwatch/internal/cases/models"
	dErrors "civicwatch/pkg/domain-errors"
)

type analyzeRequest struct {
	CaseID        string            `json:"case_id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	ComplaintType string            `json:"complaint_type"`
	Location      string            `json:"location,omitempty"`
	Evidence      []analyzeEvidence `json:"evidence"`
}

type analyzeEvidence struct {
	Name        string `json:"name"`
	Ref         string `json:"ref"`
	ContentType string `json:"content_type,omitempty"`
	SHA256      string `json:"sha256"`
}

// Analyzer calls POST {base}/analyze and expects
// {"severity_score": n, "summary": "...", "category": "..."}.
type Analyzer struct {
	base
}

func NewAnalyzer(baseURL string, timeout time.Duration, opts ...Option) *Analyzer {
	return &Analyzer{base: newBase("analyzer", baseURL, timeout, opts)}
}

func (a *Analyzer) Analyze(ctx context.Context, c *models.Case) (models.AnalysisResult, error) {
	req := analyzeRequest{
		CaseID:        c.ID.String(),
		Title:         c.Title,
		Description:   c.Description,
		ComplaintType: string(c.Type),
		Evidence:      make([]analyzeEvidence, 0, len(c.Evidence)),
	}
	if c.Location != nil {
		req.Location = c.Location.Text
	}
	for _, ev := range c.Evidence {
		req.Evidence = append(req.Evidence, analyzeEvidence{
			Name:        ev.Name,
			Ref:         ev.Ref,
			ContentType: ev.ContentType,
			SHA256:      ev.SHA256,
		})
	}
	var out models.AnalysisResult
	if err := a.post(ctx, "/analyze", req, &out, dErrors.CodeAnalysisUnavailable); err != nil {
		return models.AnalysisResult{}, err
	}
	return out, nil
}
