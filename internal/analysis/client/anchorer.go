package client

import (
	"context"
	"time"

	id "civicwatch/pkg/domain"
	dErrors "civicwatch/pkg/domain-errors"
)

type anchorRequest struct {
	CaseID       string `json:"case_id"`
	ManifestHash string `json:"manifest_hash"`
}

type anchorResponse struct {
	Hash string `json:"hash"`
}

// Anchorer calls POST {base}/anchor and returns the ledger reference.
type Anchorer struct {
	base
}

func NewAnchorer(baseURL string, timeout time.Duration, opts ...Option) *Anchorer {
	return &Anchorer{base: newBase("anchorer", baseURL, timeout, opts)}
}

func (a *Anchorer) Anchor(ctx context.Context, caseID id.CaseID, manifestHash string) (string, error) {
	var out anchorResponse
	err := a.post(ctx, "/anchor", anchorRequest{CaseID: caseID.String(), ManifestHash: manifestHash}, &out, dErrors.CodeStorageUnavailable)
	if err != nil {
		return "", err
	}
	return out.Hash, nil
}
