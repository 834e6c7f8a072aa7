package service

import (
	"fmt"
	"strings"

	"github.com/revaiconcierge/concierge/internal/reply/domain"
)

const (
	maxReplyRunes   = 150
	defaultBusiness = "our business"
	defaultLocation = "our store"
	defaultReviewer = "Anonymous"
)

const systemPrompt = "You are an expert who writes replies to Google Business Profile reviews on behalf of the business."

func toneInstruction(tone domain.Tone) string {
	switch tone {
	case domain.TonePolite:
		return "in a polite and formal tone"
	case domain.ToneFriendly:
		return "in a warm and friendly tone"
	case domain.ToneApologetic:
		return "with a sincere apology"
	case domain.ToneGrateful:
		return "emphasizing gratitude"
	case domain.ToneProfessional:
		return "in a professional, trustworthy tone"
	default:
		return "in a sincere tone"
	}
}

type promptInput struct {
	business string
	location string
	reviewer string
	comment  string
	rating   int
	tone     domain.Tone
	template string
	language string
}

func newPromptInput(req domain.GenerateRequest, language string) promptInput {
	tone := req.Tone
	if tone == "" {
		tone = domain.TonePolite
	}
	return promptInput{
		business: orDefault(req.BusinessName, defaultBusiness),
		location: orDefault(req.LocationName, defaultLocation),
		reviewer: orDefault(req.ReviewerName, defaultReviewer),
		comment:  strings.TrimSpace(req.Comment),
		rating:   req.Rating,
		tone:     tone,
		template: strings.TrimSpace(req.TemplateContent),
		language: orDefault(language, "Japanese"),
	}
}

// fillTemplate substitutes {{location}} {{business}} {{rating}} {{reviewer}} and {{comment}}.
func (in promptInput) fillTemplate() string {
	return strings.NewReplacer(
		"{{location}}", in.location,
		"{{business}}", in.business,
		"{{rating}}", fmt.Sprint(in.rating),
		"{{reviewer}}", in.reviewer,
		"{{comment}}", in.comment,
	).Replace(in.template)
}

func (in promptInput) userPrompt() string {
	var b strings.Builder
	if in.template != "" {
		fmt.Fprintf(&b, "Using the template below, write a reply %s to a Google review of the %s location of %s.\n\n",
			toneInstruction(in.tone), in.location, in.business)
	} else {
		fmt.Fprintf(&b, "You are a staff member at the %s location of %s. Write a reply %s to the Google review below.\n\n",
			in.location, in.business, toneInstruction(in.tone))
	}
	fmt.Fprintf(&b, "Rating: %d out of 5\n", in.rating)
	fmt.Fprintf(&b, "Reviewer: %s\n", in.reviewer)
	fmt.Fprintf(&b, "Comment:\n%q\n\n", in.comment)
	if in.template != "" {
		fmt.Fprintf(&b, "Template:\n%q\n\n", in.fillTemplate())
		b.WriteString("Adapt the template into a natural reply that fits the review.\n")
	}
	fmt.Fprintf(&b, "Write the reply in %s within %d characters.\n", in.language, maxReplyRunes)
	b.WriteString("Address the reviewer with an honorific.\n")
	b.WriteString("Output only the reply text.\n")
	return b.String()
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
