package domain

import "fmt"

// RefreshState is the lifecycle of the search for one query key.
type RefreshState int

const (
	StateIdle RefreshState = iota
	StateSearching
	StateCancelled
	StateError
)

var refreshStateNames = [...]string{"idle", "searching", "cancelled", "error"}

func (s RefreshState) String() string {
	if s < 0 || int(s) >= len(refreshStateNames) {
		return fmt.Sprintf("RefreshState(%d)", int(s))
	}
	return refreshStateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s RefreshState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RefreshState) UnmarshalText(b []byte) error {
	for i, name := range refreshStateNames {
		if name == string(b) {
			*s = RefreshState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown refresh state %q", b)
}

// ScrollState is the interaction state of the consumer's list view.
type ScrollState int

const (
	ScrollIdle ScrollState = iota
	ScrollScrolling
)

// ParseScrollState accepts "idle" and "scrolling". Touch and fling states
// reported by some clients count as scrolling.
func ParseScrollState(s string) (ScrollState, error) {
	switch s {
	case "idle", "":
		return ScrollIdle, nil
	case "scrolling", "touch", "fling":
		return ScrollScrolling, nil
	}
	return ScrollIdle, fmt.Errorf("unknown scroll state %q", s)
}

func (s ScrollState) String() string {
	if s == ScrollIdle {
		return "idle"
	}
	return "scrolling"
}
