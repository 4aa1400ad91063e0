package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger_Redirect(t *testing.T) {
	defer SetLogger(nil)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})

	Logf("ingested %d positions", 42)
	if captured != "ingested 42 positions" {
		t.Errorf("captured = %q, want %q", captured, "ingested 42 positions")
	}
}

func TestSetLogger_NilIsNoop(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("dropped record: %v", "bad mmsi")
	SetLogger(nil)
}
