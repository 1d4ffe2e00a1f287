package probe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is a probe or run verdict. Higher values are worse.
type Status int

const (
	Success Status = iota
	Warning
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus converts a status name back into a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "success":
		return Success, nil
	case "warning":
		return Warning, nil
	case "failure":
		return Failure, nil
	}
	return Failure, fmt.Errorf("unknown status %q", s)
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
