package pagination

import (
	"fmt"
	"strconv"
)

// LimitParams bounds a page size
type LimitParams struct {
	Default int
	Max     int
}

// ParseLimit parses a limit query parameter. An empty value yields the
// default; values above Max are clamped to Max.
func ParseLimit(limitStr string, params LimitParams) (int, error) {
	if limitStr == "" {
		return params.Default, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("invalid limit parameter: must be at least 1")
	}
	if params.Max > 0 && limit > params.Max {
		limit = params.Max
	}
	return limit, nil
}
