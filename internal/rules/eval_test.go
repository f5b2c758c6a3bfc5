package rules

import (
	"errors"
	"testing"
	"time"
)

var evalNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func sampleMessage() Message {
	return Message{
		From:     "billing@example.com",
		To:       "me@personal.test",
		Subject:  "March invoice",
		Body:     "Your invoice for March is attached.",
		Received: evalNow.Add(-10 * 24 * time.Hour),
	}
}

func TestEvaluateConditionStrings(t *testing.T) {
	msg := sampleMessage()
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"contains", Condition{FieldFrom, Contains, "@example.com"}, true},
		{"contains-case-insensitive", Condition{FieldFrom, Contains, "@EXAMPLE.COM"}, true},
		{"contains-miss", Condition{FieldFrom, Contains, "@other.org"}, false},
		{"does-not-contain", Condition{FieldSubject, DoesNotContain, "newsletter"}, true},
		{"does-not-contain-hit", Condition{FieldSubject, DoesNotContain, "invoice"}, false},
		{"equals-case-insensitive", Condition{FieldSubject, Equals, "march INVOICE"}, true},
		{"equals-miss", Condition{FieldSubject, Equals, "march"}, false},
		{"does-not-equal", Condition{FieldTo, DoesNotEqual, "someone@else.test"}, true},
		{"body-contains", Condition{FieldMessage, Contains, "attached"}, true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateCondition(tc.cond, msg, evalNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateConditionDates(t *testing.T) {
	msg := sampleMessage() // received 10 days before evalNow
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"older-than-7", Condition{FieldReceived, OlderThan, "7"}, true},
		{"older-than-30", Condition{FieldReceived, OlderThan, "30"}, false},
		{"newer-than-30", Condition{FieldReceived, NewerThan, "30"}, true},
		{"newer-than-7", Condition{FieldReceived, NewerThan, "7"}, false},
		{"older-than-months", Condition{FieldReceived, OlderThanMonths, "1"}, false},
		{"newer-than-months", Condition{FieldReceived, NewerThanMonths, "1"}, true},
		{"before", Condition{FieldReceived, Before, "2024-06-10"}, true},
		{"before-miss", Condition{FieldReceived, Before, "2024-06-01"}, false},
		{"after", Condition{FieldReceived, After, "2024-06-01"}, true},
		{"after-rfc3339", Condition{FieldReceived, After, "2024-06-01T00:00:00Z"}, true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateCondition(tc.cond, msg, evalNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateConditionDeterministic(t *testing.T) {
	msg := sampleMessage()
	cond := Condition{FieldReceived, OlderThan, "7"}
	first, err := EvaluateCondition(cond, msg, evalNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := EvaluateCondition(cond, msg, evalNow)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("evaluation not deterministic: %v then %v", first, again)
		}
	}
}

func TestEvaluateConditionErrors(t *testing.T) {
	msg := sampleMessage()
	tests := []struct {
		name     string
		cond     Condition
		sentinel error
	}{
		{"unknown-field", Condition{"Recipient", Contains, "x"}, ErrUnknownField},
		{"bad-day-count", Condition{FieldReceived, OlderThan, "soon"}, ErrInvalidConditionValue},
		{"bad-date", Condition{FieldReceived, Before, "whenever"}, ErrInvalidConditionValue},
		{"wrong-predicate", Condition{FieldReceived, Contains, "x"}, ErrInvalidPredicate},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := EvaluateCondition(tc.cond, msg, evalNow)
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("error %v does not wrap %v", err, tc.sentinel)
			}
		})
	}
}

func leaf(f Field, p Predicate, v string) Node {
	return Node{Leaf: &Condition{Field: f, Predicate: p, Value: v}}
}

func TestEvaluateAllAny(t *testing.T) {
	msg := sampleMessage()
	hit := leaf(FieldFrom, Contains, "@example.com")
	miss := leaf(FieldSubject, Contains, "newsletter")

	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"all-true", Node{Combinator: All, Children: []Node{hit, hit}}, true},
		{"all-one-false-first", Node{Combinator: All, Children: []Node{miss, hit}}, false},
		{"all-one-false-last", Node{Combinator: All, Children: []Node{hit, miss}}, false},
		{"any-one-true-first", Node{Combinator: Any, Children: []Node{hit, miss}}, true},
		{"any-one-true-last", Node{Combinator: Any, Children: []Node{miss, hit}}, true},
		{"any-all-false", Node{Combinator: Any, Children: []Node{miss, miss}}, false},
		{
			"nested",
			Node{Combinator: Any, Children: []Node{
				{Combinator: All, Children: []Node{hit, miss}},
				{Combinator: All, Children: []Node{hit, leaf(FieldSubject, Contains, "invoice")}},
			}},
			true,
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.node, msg, evalNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateShortCircuitOrder(t *testing.T) {
	// The second child is malformed; All must short-circuit on the
	// first false child before reaching it.
	msg := sampleMessage()
	node := Node{Combinator: All, Children: []Node{
		leaf(FieldSubject, Contains, "newsletter"), // false
		leaf("Bogus", Contains, "x"),               // would error
	}}
	got, err := Evaluate(node, msg, evalNow)
	if err != nil {
		t.Fatalf("expected short-circuit before malformed child, got error: %v", err)
	}
	if got {
		t.Fatalf("expected false")
	}

	// Dually for Any: first true child wins.
	node = Node{Combinator: Any, Children: []Node{
		leaf(FieldFrom, Contains, "@example.com"), // true
		leaf("Bogus", Contains, "x"),
	}}
	got, err = Evaluate(node, msg, evalNow)
	if err != nil {
		t.Fatalf("expected short-circuit before malformed child, got error: %v", err)
	}
	if !got {
		t.Fatalf("expected true")
	}
}

func TestEvaluateScenarioRule(t *testing.T) {
	// {Any: [{All: [From Contains "@example.com", Subject Contains "invoice"]}]}
	tree := Node{Combinator: Any, Children: []Node{
		{Combinator: All, Children: []Node{
			leaf(FieldFrom, Contains, "@example.com"),
			leaf(FieldSubject, Contains, "invoice"),
		}},
	}}

	matched, err := Evaluate(tree, sampleMessage(), evalNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !matched {
		t.Fatalf("expected invoice message to match")
	}

	newsletter := sampleMessage()
	newsletter.Subject = "Newsletter"
	newsletter.Body = "This week in mail"
	matched, err = Evaluate(tree, newsletter, evalNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matched {
		t.Fatalf("expected newsletter message not to match")
	}
}
