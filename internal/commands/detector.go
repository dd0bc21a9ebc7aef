// Package commands recognizes the control commands users can issue in
// issue or comment text.
package commands

import "strings"

const (
	// StopCommand opts a user out: their conversation is finalized and
	// the bot stops asking them questions.
	StopCommand = "/stop"

	// DiagnoseCommand opts a user in: a fresh conversation is created
	// for them even if they were never the thread owner.
	DiagnoseCommand = "/diagnose"
)

// Detection reports which commands were present in a piece of text.
type Detection struct {
	HasStop     bool
	HasDiagnose bool
}

// Detect scans text for recognized commands. Matching is a
// case-insensitive substring check, and callers must pass only the newly
// arrived text: scanning concatenated thread history would re-trigger on
// the bot's own earlier acknowledgments.
func Detect(text string) Detection {
	lower := strings.ToLower(text)
	return Detection{
		HasStop:     strings.Contains(lower, StopCommand),
		HasDiagnose: strings.Contains(lower, DiagnoseCommand),
	}
}
