package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	day          = 24 * time.Hour
	daysPerMonth = 30
)

// Evaluate walks the node tree against one message. It is pure: the only
// clock it sees is the explicit now. Children are evaluated in declared
// order; All short-circuits on the first false child, Any on the first
// true one. Errors can only surface for trees that bypassed Validate.
func Evaluate(n Node, m Message, now time.Time) (bool, error) {
	if n.IsLeaf() {
		return EvaluateCondition(*n.Leaf, m, now)
	}
	switch n.Combinator {
	case All:
		for _, child := range n.Children {
			ok, err := Evaluate(child, m, now)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case Any:
		for _, child := range n.Children {
			ok, err := Evaluate(child, m, now)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, validationErr("", ErrInvalidRuleNode, "unknown combinator %q", n.Combinator)
	}
}

// EvaluateCondition applies one leaf condition to one message.
func EvaluateCondition(c Condition, m Message, now time.Time) (bool, error) {
	switch c.Field {
	case FieldFrom:
		return matchString(c, m.From)
	case FieldTo:
		return matchString(c, m.To)
	case FieldSubject:
		return matchString(c, m.Subject)
	case FieldMessage:
		return matchString(c, m.Body)
	case FieldReceived:
		return matchDate(c, m.Received, now)
	default:
		return false, validationErr("", ErrUnknownField, "field %q is not recognized", c.Field)
	}
}

func matchString(c Condition, got string) (bool, error) {
	got = strings.ToLower(got)
	want := strings.ToLower(c.Value)
	switch c.Predicate {
	case Contains:
		return strings.Contains(got, want), nil
	case DoesNotContain:
		return !strings.Contains(got, want), nil
	case Equals:
		return got == want, nil
	case DoesNotEqual:
		return got != want, nil
	default:
		return false, validationErr("", ErrInvalidPredicate,
			"predicate %q not valid for string field %q", c.Predicate, c.Field)
	}
}

func matchDate(c Condition, received, now time.Time) (bool, error) {
	switch c.Predicate {
	case OlderThan, NewerThan, OlderThanMonths, NewerThanMonths:
		n, err := parseCount(c.Value)
		if err != nil {
			return false, validationErr("", ErrInvalidConditionValue,
				"%q is not a number of %s", c.Value, unitFor(c.Predicate))
		}
		window := time.Duration(n) * day
		if c.Predicate == OlderThanMonths || c.Predicate == NewerThanMonths {
			window *= daysPerMonth
		}
		age := now.Sub(received)
		if c.Predicate == OlderThan || c.Predicate == OlderThanMonths {
			return age > window, nil
		}
		return age < window, nil
	case Before:
		t, err := parseDate(c.Value)
		if err != nil {
			return false, validationErr("", ErrInvalidConditionValue, "%q is not a date", c.Value)
		}
		return received.Before(t), nil
	case After:
		t, err := parseDate(c.Value)
		if err != nil {
			return false, validationErr("", ErrInvalidConditionValue, "%q is not a date", c.Value)
		}
		return received.After(t), nil
	default:
		return false, validationErr("", ErrInvalidPredicate,
			"predicate %q not valid for date field %q", c.Predicate, c.Field)
	}
}

func parseCount(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
