package calendar

import (
	"testing"
	"time"
)

func TestWindow(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2024, time.March, 5, 15, 42, 10, 0, loc)

	from, to := Window(now, DefaultWindow)
	if want := time.Date(2024, time.March, 5, 0, 0, 0, 0, loc); !from.Equal(want) {
		t.Errorf("from = %v, want %v", from, want)
	}
	if want := time.Date(2024, time.March, 12, 0, 0, 0, 0, loc); !to.Equal(want) {
		t.Errorf("to = %v, want %v", to, want)
	}
	if from.Location() != loc {
		t.Errorf("location = %v, want %v", from.Location(), loc)
	}
}
