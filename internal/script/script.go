// Package script classifies text by writing system so callers can pick a
// speech engine and a translation direction.
package script

import "strings"

type Mode string

const (
	// EtoK translates English input to Korean.
	EtoK Mode = "EtoK"
	// KtoE translates Korean input to English.
	KtoE Mode = "KtoE"
)

const (
	LangKorean  = "ko-KR"
	LangEnglish = "en-US"
)

// ContainsHangul reports whether s holds any Hangul compatibility jamo
// (consonants ㄱ-ㅎ, vowels ㅏ-ㅣ) or precomposed syllables (가-힣).
func ContainsHangul(s string) bool {
	for _, r := range s {
		if isHangul(r) {
			return true
		}
	}
	return false
}

func isHangul(r rune) bool {
	switch {
	case r >= 'ㄱ' && r <= 'ㅎ':
		return true
	case r >= 'ㅏ' && r <= 'ㅣ':
		return true
	case r >= '가' && r <= '힣':
		return true
	}
	return false
}

// DetectMode picks the translation direction for an input. Blank input
// defaults to EtoK.
func DetectMode(s string) Mode {
	if strings.TrimSpace(s) == "" {
		return EtoK
	}
	if ContainsHangul(s) {
		return KtoE
	}
	return EtoK
}

// ParseMode normalises a wire value; anything but KtoE is EtoK.
func ParseMode(s string) Mode {
	if Mode(s) == KtoE {
		return KtoE
	}
	return EtoK
}

// Lang returns the BCP 47 tag the local speech engine should use for s.
func Lang(s string) string {
	if ContainsHangul(s) {
		return LangKorean
	}
	return LangEnglish
}
