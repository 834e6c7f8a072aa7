package domain

import (
	"context"
	"errors"
)

type Tone string

const (
	TonePolite       Tone = "polite"
	ToneFriendly     Tone = "friendly"
	ToneApologetic   Tone = "apologetic"
	ToneGrateful     Tone = "grateful"
	ToneProfessional Tone = "professional"
)

type Service interface {
	// Generate records one ai_reply usage for the tenant before asking the model.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// GenerateRequest carries the review as resolved by the caller.
type GenerateRequest struct {
	TenantID        string `json:"-"`
	ReviewID        string `json:"reviewId"`
	Rating          int    `json:"rating"`
	Comment         string `json:"comment"`
	ReviewerName    string `json:"reviewerName"`
	LocationName    string `json:"locationName"`
	BusinessName    string `json:"businessName"`
	Tone            Tone   `json:"tone"`
	TemplateContent string `json:"templateContent"`
}

type GenerateResponse struct {
	Reply        string `json:"reply"`
	ReviewID     string `json:"reviewId"`
	UsedTemplate bool   `json:"usedTemplate"`
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidReview     = errors.New("invalid_review")
	ErrGeneratorDisabled = errors.New("reply_generator_disabled")
	ErrEmptyCompletion   = errors.New("empty_completion")
)
