package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})

	Logf("lap %d complete", 3)
	if captured != "lap 3 complete" {
		t.Errorf("captured = %q, want %q", captured, "lap 3 complete")
	}

	// nil resets to a no-op without panicking
	SetLogger(nil)
	Logf("ignored %v", 42)
}
