package verify

import (
	"encoding/json"
	"fmt"
)

// Status is the per-function verification state. The lifecycle is
// Unverified -> Verifying -> one of the terminal states.
type Status int

const (
	StatusUnverified Status = iota
	StatusVerifying
	StatusProved
	StatusDisproved
	StatusTimedOut
	StatusTrusted
	StatusSkipped
)

// Verified reports whether downstream optimization may consume the facts.
// Trusted counts: the optimizer treats trusted facts like solver-proved
// ones, only diagnostics keep them apart.
func (s Status) Verified() bool { return s == StatusProved || s == StatusTrusted }

func (s Status) String() string {
	switch s {
	case StatusUnverified:
		return "unverified"
	case StatusVerifying:
		return "verifying"
	case StatusProved:
		return "proved"
	case StatusDisproved:
		return "disproved"
	case StatusTimedOut:
		return "timed-out"
	case StatusTrusted:
		return "trusted"
	case StatusSkipped:
		return "skipped"
	default:
		return "status?"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "unverified":
		*s = StatusUnverified
	case "verifying":
		*s = StatusVerifying
	case "proved":
		*s = StatusProved
	case "disproved":
		*s = StatusDisproved
	case "timed-out":
		*s = StatusTimedOut
	case "trusted":
		*s = StatusTrusted
	case "skipped":
		*s = StatusSkipped
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}
