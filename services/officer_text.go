package services

import (
	"regexp"
	"strings"
)

// ClosingText is the canonical last line of every interview.
const ClosingText = "Thank you for your answers. This concludes your mock visa interview. Have a good day."

// QuestionKeyUserEnded marks the turn recorded when the candidate stops early.
const QuestionKeyUserEnded = "user-ended"

var endMarkers = []string{
	"have a good day",
	"this concludes your interview",
	"that concludes the interview",
	"thank you for your time",
	"this concludes the mock interview",
	"we are done for today",
	"this concludes your mock visa interview",
}

var userStopMarkers = []string{
	"finish",
	"end interview",
	"end the interview",
	"stop",
	"that's all",
	"that is all",
	"i'm done",
	"im done",
	"i am done",
	"no more",
	"we can stop",
}

var (
	officerLabelWithSeparator = regexp.MustCompile(`(?i)^(consular\s+officer|officer)\s*[:\-–—]\s*`)
	officerLabelBare          = regexp.MustCompile(`(?i)^(consular\s+officer|officer)\s+`)
)

// officerSaidGoodbye reports whether the model wrapped up the interview itself.
func officerSaidGoodbye(text string) bool {
	return containsAny(strings.ToLower(text), endMarkers)
}

// userAskedToStop reports whether the candidate asked to end the interview.
func userAskedToStop(text string) bool {
	return containsAny(strings.ToLower(text), userStopMarkers)
}

// stripOfficerPrefix removes a leading "Officer:" style speaker label.
func stripOfficerPrefix(text string) string {
	out := strings.TrimSpace(text)
	out = officerLabelWithSeparator.ReplaceAllString(out, "")
	out = officerLabelBare.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
