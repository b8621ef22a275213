package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	"golang.org/x/crypto/sha3"

	"civicwatch/internal/cases/models"
)

// ManifestHash fingerprints an analyzed case for anchoring. The manifest is
// a compact JSON object with sorted keys, hashed with keccak-256 and returned
// as 0x-prefixed hex. Evidence order does not affect the result.
func ManifestHash(c *models.Case) (string, error) {
	desc := sha256.Sum256([]byte(c.Description))
	inventory := make([]string, 0, len(c.Evidence))
	for _, ev := range c.Evidence {
		if ev.SHA256 != "" {
			inventory = append(inventory, ev.SHA256)
		}
	}
	slices.Sort(inventory)

	var severity float64
	if s := c.Severity(); s != nil {
		severity = *s
	}
	manifest := map[string]any{
		"id":                 c.ID.String(),
		"description_hash":   hex.EncodeToString(desc[:]),
		"evidence_inventory": inventory,
		"initial_severity":   severity,
		"timestamp":          c.FiledAt.Unix(),
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
