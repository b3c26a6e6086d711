package model

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyClaim is returned when a claim carries no text to judge
var ErrEmptyClaim = errors.New("claim text is empty")

// Claim represents a factual assertion under review. Immutable once created.
type Claim struct {
	ID       string `json:"id"`                 // Stable identifier (UUID when not supplied)
	Text     string `json:"text"`               // The claim text itself
	Position int    `json:"position,omitempty"` // Position of the claim in its source document
}

// NewClaim creates a claim with a fresh ID
func NewClaim(text string, position int) Claim {
	return Claim{
		ID:       uuid.NewString(),
		Text:     strings.TrimSpace(text),
		Position: position,
	}
}

// Normalize fills a missing ID and trims the text
func (c Claim) Normalize() (Claim, error) {
	c.Text = strings.TrimSpace(c.Text)
	if c.Text == "" {
		return c, ErrEmptyClaim
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return c, nil
}

// CheckRequest is one unit of work: a claim plus the candidates gathered for it.
// Candidates may be empty when retrieval channels are configured.
type CheckRequest struct {
	Claim      Claim               `json:"claim"`
	Candidates []EvidenceCandidate `json:"candidates,omitempty"`
}
