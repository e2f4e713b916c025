package adapter

import (
	"fmt"
	"time"
)

// optString returns a string option, or "" when absent.
func optString(opts map[string]any, key string) (string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q must be a string, got %T", key, v)
	}
	return s, nil
}

// optStrings returns a list-of-strings option. A single string is accepted
// as a one-element list.
func optStrings(opts map[string]any, key string) ([]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %q[%d] must be a string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %q must be a list of strings, got %T", key, v)
	}
}

// optStringMap returns a map-of-strings option such as request headers.
func optStringMap(opts map[string]any, key string) (map[string]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("option %q must be a mapping, got %T", key, v)
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("option %q.%s must be a string, got %T", key, k, item)
		}
		out[k] = s
	}
	return out, nil
}

// optDuration parses a Go duration string option.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	s, err := optString(opts, key)
	if err != nil || s == "" {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %q: %w", key, err)
	}
	return d, nil
}

// optLocation resolves an IANA time zone option, defaulting to UTC.
func optLocation(opts map[string]any, key string) (*time.Location, error) {
	s, err := optString(opts, key)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, fmt.Errorf("option %q: %w", key, err)
	}
	return loc, nil
}
