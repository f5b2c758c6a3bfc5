package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// nodeDoc mirrors one nesting level of the JSON rule document. A level
// contributes leaf conditions and sub-combinators; declared order is
// conditions first, then rules.
type nodeDoc struct {
	Predicate  string         `json:"predicate"`
	Conditions []conditionDoc `json:"conditions"`
	Rules      []nodeDoc      `json:"rules"`
}

type conditionDoc struct {
	Field     string `json:"field"`
	Predicate string `json:"predicate"`
	Value     string `json:"value"`
}

type ruleDoc struct {
	Name string `json:"name"`
	nodeDoc
	Actions actionsDoc `json:"actions"`
}

type actionsDoc struct {
	Mark string `json:"mark"`
	Move string `json:"move"`
}

// LoadFile reads, parses and validates a rule document from disk.
func LoadFile(path string) (*RuleSet, error) {
	f, err := os.Open(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer func() { _ = f.Close() }()
	rs, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load rules from %s: %w", path, err)
	}
	return rs, nil
}

// Load parses and validates a rule document. The returned RuleSet is
// fully type-checked: evaluation cannot hit a malformed node.
func Load(r io.Reader) (*RuleSet, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc ruleDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rule document: %w", err)
	}

	root := buildNode(doc.nodeDoc)
	rs := &RuleSet{
		Name: strings.TrimSpace(doc.Name),
		Root: root,
		Actions: Actions{
			Mark: strings.TrimSpace(doc.Actions.Mark),
			Move: strings.TrimSpace(doc.Actions.Move),
		},
	}
	if err := Validate(rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func buildNode(doc nodeDoc) Node {
	pred := strings.TrimSpace(doc.Predicate)
	if pred == "" {
		pred = string(All)
	}
	n := Node{Combinator: Combinator(pred)}
	for _, c := range doc.Conditions {
		n.Children = append(n.Children, Node{Leaf: &Condition{
			Field:     Field(strings.TrimSpace(c.Field)),
			Predicate: Predicate(strings.TrimSpace(c.Predicate)),
			Value:     c.Value,
		}})
	}
	for _, sub := range doc.Rules {
		n.Children = append(n.Children, buildNode(sub))
	}
	return n
}

// Validate checks the whole rule set structurally and reports the first
// defect found. A valid set has a recognized combinator and at least one
// child at every non-leaf node, well-typed leaves, and a non-empty action
// list with recognized tokens.
func Validate(rs *RuleSet) error {
	if err := validateNode(rs.Root, "rules"); err != nil {
		return err
	}
	return validateActions(rs.Actions)
}

func validateNode(n Node, path string) error {
	if n.IsLeaf() {
		return validateCondition(*n.Leaf, path)
	}
	switch n.Combinator {
	case All, Any:
	default:
		return validationErr(path, ErrInvalidRuleNode, "unknown combinator %q", n.Combinator)
	}
	if len(n.Children) == 0 {
		return validationErr(path, ErrInvalidRuleNode, "%s node has no children", n.Combinator)
	}
	for i, child := range n.Children {
		childPath := fmt.Sprintf("%s.conditions[%d]", path, i)
		if !child.IsLeaf() {
			childPath = fmt.Sprintf("%s.rules[%d]", path, i)
		}
		if err := validateNode(child, childPath); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(c Condition, path string) error {
	switch c.Field {
	case FieldFrom, FieldTo, FieldSubject, FieldMessage:
		switch c.Predicate {
		case Contains, DoesNotContain, Equals, DoesNotEqual:
			return nil
		default:
			return validationErr(path, ErrInvalidPredicate,
				"predicate %q not valid for string field %q", c.Predicate, c.Field)
		}
	case FieldReceived:
		switch c.Predicate {
		case OlderThan, NewerThan, OlderThanMonths, NewerThanMonths:
			if _, err := parseCount(c.Value); err != nil {
				return validationErr(path, ErrInvalidConditionValue,
					"%q is not a number of %s", c.Value, unitFor(c.Predicate))
			}
			return nil
		case Before, After:
			if _, err := parseDate(c.Value); err != nil {
				return validationErr(path, ErrInvalidConditionValue,
					"%q is not a date (want 2006-01-02 or RFC 3339)", c.Value)
			}
			return nil
		default:
			return validationErr(path, ErrInvalidPredicate,
				"predicate %q not valid for date field %q", c.Predicate, c.Field)
		}
	default:
		return validationErr(path, ErrUnknownField, "field %q is not recognized", c.Field)
	}
}

func unitFor(p Predicate) string {
	if p == OlderThanMonths || p == NewerThanMonths {
		return "months"
	}
	return "days"
}

func validateActions(a Actions) error {
	if a.Mark == "" && a.Move == "" {
		return validationErr("actions", ErrInvalidAction, "at least one of mark/move is required")
	}
	switch a.Mark {
	case "", "read", "unread":
	default:
		return validationErr("actions", ErrInvalidAction, "mark must be read or unread, got %q", a.Mark)
	}
	return nil
}
