package recognition

import (
	"strings"
	"unicode/utf8"
)

// RejectReason explains why an input never reached recognition.
type RejectReason string

const (
	RejectTooShort      RejectReason = "too_short"
	RejectASRError      RejectReason = "asr_error"
	RejectFiller        RejectReason = "filler"
	RejectRepeatedRunes RejectReason = "repeated_runes"
	RejectNoKeyword     RejectReason = "no_meaningful_keyword"
)

// IsInvalid is the pre-recognition gate. It is pure: identical input always
// yields the identical verdict. Rejected input short-circuits the turn with
// a "didn't catch that" response and is never recorded with an intent.
func IsInvalid(input string) (RejectReason, bool) {
	normalized := normalize(input)

	if utf8.RuneCountInString(normalized) < 2 {
		return RejectTooShort, true
	}

	if asrErrorPhrases[normalized] {
		return RejectASRError, true
	}

	if isPureFiller(normalized) {
		return RejectFiller, true
	}

	if hasLongRun(normalized, 3) {
		return RejectRepeatedRunes, true
	}

	if utf8.RuneCountInString(normalized) < 10 && !hasMeaningfulKeyword(normalized) {
		return RejectNoKeyword, true
	}

	return "", false
}

func isPureFiller(normalized string) bool {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if !fillerWords[w] {
			return false
		}
	}
	return true
}

// hasLongRun reports a run of more than max identical consecutive runes,
// a common keyboard-mash / stuck-ASR signature.
func hasLongRun(s string, max int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run > max {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

func hasMeaningfulKeyword(normalized string) bool {
	if hasAmount(normalized) {
		return true
	}
	for _, kw := range meaningfulKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
