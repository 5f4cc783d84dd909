package search

import "fmt"

// FallbackResponse is the deterministic response text used when the composer is
// unavailable.
func FallbackResponse(intent, location string, total int) string {
	switch {
	case total == 0:
		return fmt.Sprintf("The paths around %s remain elusive for %s. "+
			"Try a broader search or a neighboring town.", location, intent)
	case total >= 3:
		return fmt.Sprintf("%s reveals %d intriguing spots for %s. "+
			"Start with the first few and let the rest find you.", location, total, intent)
	default:
		return fmt.Sprintf("%s offers %d discoveries for %s. Few, but worth the detour.", location, total, intent)
	}
}
