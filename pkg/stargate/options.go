package stargate

import (
	"fmt"
	"strconv"
	"time"
)

// Options is the configuration map consumed by Star.Launch
type Options map[string]any

// String returns the string option for key or def
func (o Options) String(key, def string) string {
	switch v := o[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		return v.String()
	}
	return def
}

// Int returns the integer option for key or def. Numeric strings are accepted
// since environment overrides arrive as text.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Duration returns the duration option for key or def
func (o Options) Duration(key string, def time.Duration) time.Duration {
	switch v := o[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// StringSlices returns a host table option such as the static DNS map.
// YAML decoders hand back map[string]any with []any values, so both shapes
// are converted.
func (o Options) StringSlices(key string) map[string][]string {
	out := make(map[string][]string)
	switch v := o[key].(type) {
	case map[string][]string:
		for host, ips := range v {
			out[host] = append([]string(nil), ips...)
		}
	case map[string]any:
		for host, raw := range v {
			switch ips := raw.(type) {
			case []string:
				out[host] = append([]string(nil), ips...)
			case []any:
				for _, ip := range ips {
					if s, ok := ip.(string); ok {
						out[host] = append(out[host], s)
					}
				}
			case string:
				out[host] = []string{ips}
			}
		}
	}
	return out
}
