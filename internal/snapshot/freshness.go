package snapshot

import (
	"encoding/json"
	"fmt"
)

// Freshness classifies how current a center's snapshot is.
type Freshness int

const (
	Pending Freshness = iota // no attempt has completed yet
	Fresh                    // last attempt succeeded
	Stale                    // last attempt failed temporarily; data retained
	Failed                   // permanent failure or too many consecutive failures
)

func (f Freshness) String() string {
	switch f {
	case Pending:
		return "pending"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseFreshness is the inverse of String.
func ParseFreshness(s string) (Freshness, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "fresh":
		return Fresh, nil
	case "stale":
		return Stale, nil
	case "failed":
		return Failed, nil
	default:
		return Pending, fmt.Errorf("unknown freshness %q", s)
	}
}

func (f Freshness) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Freshness) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFreshness(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
