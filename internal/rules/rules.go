// Package rules implements the rule document: a tree of All/Any combinators
// over field conditions, plus the actions to apply on a match.
package rules

import "time"

// Field names the message attribute a condition tests.
type Field string

const (
	FieldFrom     Field = "From"
	FieldTo       Field = "To"
	FieldSubject  Field = "Subject"
	FieldMessage  Field = "Message" // snippet / body excerpt
	FieldReceived Field = "Received"
)

// Predicate is the comparator applied to a field's value.
type Predicate string

const (
	// String predicates, case-insensitive.
	Contains       Predicate = "Contains"
	DoesNotContain Predicate = "DoesNotContain"
	Equals         Predicate = "Equals"
	DoesNotEqual   Predicate = "DoesNotEqual"

	// Date predicates. OlderThan/NewerThan take an integer day count,
	// the month variants an integer month count (30-day months),
	// Before/After a literal date.
	OlderThan       Predicate = "OlderThan"
	NewerThan       Predicate = "NewerThan"
	OlderThanMonths Predicate = "OlderThanMonths"
	NewerThanMonths Predicate = "NewerThanMonths"
	Before          Predicate = "Before"
	After           Predicate = "After"
)

// Combinator joins the children of a non-leaf node.
type Combinator string

const (
	All Combinator = "All"
	Any Combinator = "Any"
)

// Condition is a single field/comparator/value test.
type Condition struct {
	Field     Field
	Predicate Predicate
	Value     string
}

// Node is either a leaf Condition or a combinator over ordered children.
// Exactly one of Leaf and Children is populated; Validate enforces this
// before any evaluation happens.
type Node struct {
	Leaf       *Condition
	Combinator Combinator
	Children   []Node
}

// IsLeaf reports whether the node is a condition leaf.
func (n Node) IsLeaf() bool { return n.Leaf != nil }

// Actions is the desired end state applied when the tree matches.
// At least one of Mark and Move is set.
type Actions struct {
	Mark string // "read", "unread" or empty
	Move string // target label name, or empty
}

// RuleSet is a validated rule document. Immutable after Load.
type RuleSet struct {
	Name    string
	Root    Node
	Actions Actions
}

// Message is the minimal read-only view of a stored message the evaluator
// needs. Callers map their own message type into it.
type Message struct {
	From     string
	To       string
	Subject  string
	Body     string
	Received time.Time
}
