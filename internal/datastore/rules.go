package datastore

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidAddress is returned for a rule condition that does not point at sensor state.
	ErrInvalidAddress = errors.New("condition address must be /sensors/<id>/state/<key>")
	// ErrInvalidDuration is returned for a ddx value that is not PThh:mm:ss.
	ErrInvalidDuration = errors.New("duration must be PThh:mm:ss")
)

// Rule condition operators.
const (
	OpEq        = "eq"
	OpLt        = "lt"
	OpGt        = "gt"
	OpDx        = "dx"
	OpDdx       = "ddx"
	OpIn        = "in"
	OpNotIn     = "not in"
	OpStable    = "stable"
	OpNotStable = "not stable"
)

var ddxPattern = regexp.MustCompile(`^PT(\d{2}):(\d{2}):(\d{2})`)

// NewCondition builds a condition and derives its sensor ID and state key.
func NewCondition(address, operator, value string) (Condition, error) {
	c := Condition{Address: address, Operator: operator, Value: value}
	path := strings.Split(address, "/")
	if len(path) < 5 || path[1] != "sensors" || path[3] != "state" {
		return c, fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}
	c.SensorID = path[2]
	c.Key = path[4]
	if operator == OpDdx {
		if _, err := ParseDDX(value); err != nil {
			return c, err
		}
	}
	return c, nil
}

// ParseDDX parses a PThh:mm:ss duration.
func ParseDDX(value string) (time.Duration, error) {
	m := ddxPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("%q: %w", value, ErrInvalidDuration)
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	return time.Duration(h)*time.Hour + time.Duration(min)*time.Minute + time.Duration(s)*time.Second, nil
}
