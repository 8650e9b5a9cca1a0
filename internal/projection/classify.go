package projection

import (
	"strings"

	"github.com/revpipe/revpipe/internal/domain"
)

// classifyPresales buckets an activity into the presales taxonomy from its
// type, summary and note. Matching is lexical over the lower-cased text;
// the first matching rule wins, most specific first.
func classifyPresales(activityType, summary, note string) domain.PresalesCategory {
	text := strings.ToLower(activityType + " " + summary + " " + note)

	switch {
	case containsAny(text, "poc", "proof of concept", "pilot"):
		return domain.PresalesPOC
	case containsAny(text, "demo", "demonstration", "walkthrough"):
		return domain.PresalesDemo
	case containsAny(text, "presentation", "present", "slide", "deck"):
		return domain.PresalesPresentation
	case containsAny(text, "rfp", "rfi", "rfq", "tender", "proposal"):
		return domain.PresalesRFPInfluence
	case containsAny(text, "lead", "prospect", "qualification"):
		return domain.PresalesLead
	case containsAny(text, "meeting", "workshop", "onsite", "visit"):
		return domain.PresalesMeeting
	case containsAny(text, "call", "phone", "dial"):
		return domain.PresalesCall
	default:
		return domain.PresalesOther
	}
}

func containsAny(text string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
