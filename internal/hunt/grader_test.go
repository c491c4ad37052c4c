package hunt

import "testing"

func TestGrade(t *testing.T) {
	tests := []struct {
		submitted string
		canonical string
		want      bool
	}{
		{"Paris", "  paris ", true},
		{"Pariss", "Paris", false},
		{"new york", "NewYork", true},
		{"New\tYork\n", "new york", true},
		{"Vilnius", "Kaunas", false},
		{"ŠIAULIAI", "šiauliai", true},
		// Composed and decomposed forms of the same letter.
		{"Caf\u00e9", "cafe\u0301", true},
		{"cafe", "café", false},
		{"", "Paris", false},
	}

	for _, tt := range tests {
		if got := Grade(tt.submitted, tt.canonical); got != tt.want {
			t.Errorf("Grade(%q, %q) = %v, want %v", tt.submitted, tt.canonical, got, tt.want)
		}
	}
}

func TestNormalizeAnswer(t *testing.T) {
	if got := NormalizeAnswer(" The  Eiffel Tower "); got != "theeiffeltower" {
		t.Errorf("Expected whitespace and case removed, got %q", got)
	}
}
