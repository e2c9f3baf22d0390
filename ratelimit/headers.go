package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response headers consumed by the governor.
const (
	// HeaderRules carries comma-separated scope:hits:period:penalty tuples.
	// period and penalty are whole seconds.
	HeaderRules = "X-Rate-Limit-Rules"
	// HeaderState carries hits:max:remaining for the scope of the call.
	HeaderState = "X-Rate-Limit-State"
	// HeaderRetryAfter carries the over-limit wait in seconds.
	HeaderRetryAfter = "Retry-After"
)

// DefaultRetryAfter applies when an over-limit response has no usable hint.
const DefaultRetryAfter = 60 * time.Second

// MaxRetryAfter caps the server wait hint.
const MaxRetryAfter = time.Hour

// Rule is one quota announced by the server.
type Rule struct {
	Scope   string
	Hits    int
	Period  time.Duration
	Penalty time.Duration
}

// Usage is the live counter reported for the scope of a call.
type Usage struct {
	Hits      int
	Max       int
	Remaining int
}

// ParseRules parses a rules header value. Malformed tuples are skipped.
func ParseRules(value string) []Rule {
	var rules []Rule
	for _, tuple := range strings.Split(value, ",") {
		parts := strings.Split(strings.TrimSpace(tuple), ":")
		if len(parts) != 4 || parts[0] == "" {
			continue
		}
		nums, ok := atois(parts[1:])
		if !ok || nums[0] <= 0 {
			continue
		}
		rules = append(rules, Rule{
			Scope:   strings.ToLower(parts[0]),
			Hits:    nums[0],
			Period:  time.Duration(nums[1]) * time.Second,
			Penalty: time.Duration(nums[2]) * time.Second,
		})
	}
	return rules
}

// ParseUsage parses a usage header value.
func ParseUsage(value string) (Usage, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return Usage{}, false
	}
	nums, ok := atois(parts)
	if !ok {
		return Usage{}, false
	}
	return Usage{Hits: nums[0], Max: nums[1], Remaining: nums[2]}, true
}

// ParseRetryAfter returns the server wait hint, or DefaultRetryAfter when
// the header is absent or unusable.
func ParseRetryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get(HeaderRetryAfter))
	if raw == "" {
		return DefaultRetryAfter
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return DefaultRetryAfter
	}
	if seconds >= MaxRetryAfter.Seconds() {
		return MaxRetryAfter
	}
	return time.Duration(seconds * float64(time.Second))
}

func atois(parts []string) ([]int, bool) {
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
