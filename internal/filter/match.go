package filter

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Predicate defines a function that returns true if the given item matches a condition.
type Predicate[T any] func(item T, filterValue string) bool

// Options holds configuration for filtering behavior.
type Options[T any] struct {
	matchers map[string]Predicate[T]
}

// Option configures filter Options.
type Option[T any] func(*Options[T]) error

func defaultOptions[T any]() Options[T] {
	return Options[T]{
		matchers: make(map[string]Predicate[T]),
	}
}

// NormalizeString can be used to normalize a string value for filtering/comparison.
// The value is made lowercase and has any leading and/or trailing whitespace removed.
func NormalizeString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeSlice can be used to normalize all values of a slice, returning a new slice.
// The values are normalized with the same behavior as NormalizeString.
func NormalizeSlice(s []string) []string {
	s2 := make([]string, len(s))
	for i := range s {
		s2[i] = NormalizeString(s[i])
	}
	return s2
}

// NewOptions creates filter Options with defaults and applies given options.
func NewOptions[T any](opt ...Option[T]) (Options[T], error) {
	opts := defaultOptions[T]()

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(&opts); err != nil {
			return Options[T]{}, err
		}
	}
	return opts, nil
}

// Provider extracts a value of type V from an item of type T.
type Provider[T any, V any] func(T) V

// StringValueProvider extracts a single string value from an item of type T.
type StringValueProvider[T any] Provider[T, string]

// StringValuesProvider extracts a slice of string values from an item of type T.
type StringValuesProvider[T any] Provider[T, []string]

// Equals returns a Predicate that checks if the value extracted by the provider
// exactly matches the filter value (case-insensitive, normalized).
func Equals[T any](provider StringValueProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		return NormalizeString(provider(item)) == NormalizeString(val)
	}
}

// Partial returns a Predicate that checks if the value extracted by the provider
// contains the filter value as a substring (case-insensitive, normalized).
//
// Example:
//
// predicate := Partial(func(e domain.LogEntry) string { return e.Message }),
// result := predicate(entry, "timeout") // true if the message mentions "timeout"
func Partial[T any](provider StringValueProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		return strings.Contains(NormalizeString(provider(item)), NormalizeString(val))
	}
}

// HasAny returns a Predicate that checks if the values extracted by the provider include *ANY* of
// the comma-separated values in the filter string (case-insensitive, normalized).
//
// Example:
//
// predicate := HasAny(func(e domain.LogEntry) []string { return []string{string(e.Level)} }),
// result := predicate(entry, "warn,error") // true for warnings and errors
func HasAny[T any](provider StringValuesProvider[T]) Predicate[T] {
	return func(item T, val string) bool {
		required := NormalizeSlice(strings.Split(val, ","))
		allowed := make(map[string]struct{}, len(required))

		for _, v := range required {
			allowed[v] = struct{}{}
		}

		for _, v := range provider(item) {
			if _, ok := allowed[NormalizeString(v)]; ok {
				return true
			}
		}
		return false
	}
}

// WithMatchers adds or overrides matchers.
func WithMatchers[T any](m map[string]Predicate[T]) Option[T] {
	return func(o *Options[T]) error {
		for k, v := range m {
			if v == nil {
				return fmt.Errorf("matcher for key '%s' cannot be nil", k)
			}
			o.matchers[NormalizeString(k)] = v
		}
		return nil
	}
}

// WithMatcher adds or overrides a matcher.
func WithMatcher[T any](key string, value Predicate[T]) Option[T] {
	return WithMatchers(map[string]Predicate[T]{key: value})
}

// Matcher is a reusable set of compiled filter options.
type Matcher[T any] struct {
	opts Options[T]
}

// NewMatcher compiles the given options once so they can be applied to many items.
func NewMatcher[T any](opt ...Option[T]) (*Matcher[T], error) {
	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}
	return &Matcher[T]{opts: opts}, nil
}

// Match reports whether item satisfies every filter with a registered matcher.
// Empty filter values and keys without a matcher are ignored.
func (m *Matcher[T]) Match(item T, filters map[string]string) bool {
	for key, val := range filters {
		k := NormalizeString(key)
		if k == "" || NormalizeString(val) == "" {
			continue
		}

		matcher, ok := m.opts.matchers[k]
		if !ok {
			continue
		}
		if !matcher(item, val) {
			return false
		}
	}
	return true
}

// Match applies the provided filters to an item of type T using any configured Option matchers.
// It returns false if any matcher fails to validate the corresponding field.
func Match[T any](item T, filters map[string]string, opts ...Option[T]) (bool, error) {
	if filters == nil {
		return true, nil
	}

	m, err := NewMatcher(opts...)
	if err != nil {
		return false, err
	}
	return m.Match(item, filters), nil
}

// MatchRequestedSlice returns normalized values from `requested` that are found in `available`.
// It returns an error if any requested value is not found in the available set.
func MatchRequestedSlice(requested []string, available []string) ([]string, error) {
	availableSet := make(map[string]struct{}, len(available))
	for _, v := range available {
		availableSet[NormalizeString(v)] = struct{}{}
	}

	if len(requested) == 0 {
		return slices.Collect(maps.Keys(availableSet)), nil
	}

	requestedSet := make(map[string]struct{}, len(requested))
	missing := make([]string, 0)

	for _, v := range requested {
		n := NormalizeString(v)
		requestedSet[n] = struct{}{}
		if _, ok := availableSet[n]; !ok {
			missing = append(missing, v)
		}
	}

	switch len(missing) {
	case 0:
		return slices.Collect(maps.Keys(requestedSet)), nil
	case len(requestedSet):
		return nil, fmt.Errorf("none of the requested values were found")
	default:
		sort.Strings(missing)
		return nil, fmt.Errorf("missing values: %s", strings.Join(missing, ", "))
	}
}
