package models

import "testing"

func TestIntentRoundTrip(t *testing.T) {
	for _, intent := range []Intent{IntentSearch, IntentCasual, IntentInquiry, IntentOther} {
		parsed, ok := ParseIntent(intent.String())
		if !ok {
			t.Errorf("ParseIntent(%q) not recognized", intent.String())
		}
		if parsed != intent {
			t.Errorf("ParseIntent(%q) = %v, want %v", intent.String(), parsed, intent)
		}
	}
}

func TestParseIntent_Unknown(t *testing.T) {
	for _, label := range []string{"", "SEARCH", "dating", "find people"} {
		parsed, ok := ParseIntent(label)
		if ok {
			t.Errorf("ParseIntent(%q) should not be recognized", label)
		}
		if parsed != IntentOther {
			t.Errorf("ParseIntent(%q) = %v, want IntentOther", label, parsed)
		}
	}
}
