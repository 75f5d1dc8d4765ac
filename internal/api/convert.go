package api

import (
	"time"
)

type Convertible[T any] interface {
	// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
	// It should be responsible for any normalization required to ensure consistency
	// across the API boundary.
	ToAPIType() (T, error)
}

// convertAll converts every wrapped domain value, stopping at the first failure.
func convertAll[D Convertible[T], T any](items []D) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := item.ToAPIType()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func durationString(d *time.Duration) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
