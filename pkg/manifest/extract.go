package manifest

import "fmt"

// DefaultGroup is the dependency group holding benchmark tooling.
const DefaultGroup = "benchmark"

// Extract parses manifest data and returns the named group's requirements.
// A missing or empty group is an error: an empty result would let every
// revision run without its benchmark tooling.
func Extract(data []byte, group string) ([]string, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	reqs, _, err := m.Group(group)
	if err != nil {
		return nil, err
	}

	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyGroup, group)
	}

	return reqs, nil
}
