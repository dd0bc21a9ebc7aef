package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantStop     bool
		wantDiagnose bool
	}{
		{"plain text", "the app crashes on startup", false, false},
		{"stop command", "/stop", true, false},
		{"stop mid-sentence", "please /stop bothering me", true, false},
		{"stop mixed case", "/STOP", true, false},
		{"diagnose command", "/diagnose hello", false, true},
		{"diagnose mixed case", "/Diagnose", false, true},
		{"both commands", "/diagnose then /stop", true, true},
		{"empty", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.text)
			assert.Equal(t, tt.wantStop, got.HasStop)
			assert.Equal(t, tt.wantDiagnose, got.HasDiagnose)
		})
	}
}
