// Package plan turns a matched rule's actions into the minimal set of
// label mutations. Planning is pure and works on label names; resolving
// names to remote label IDs is the caller's concern.
package plan

import "fmt"

// Op distinguishes mutation directions.
type Op int

const (
	RemoveLabel Op = iota
	AddLabel
)

func (o Op) String() string {
	switch o {
	case RemoveLabel:
		return "remove"
	case AddLabel:
		return "add"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Mutation is one concrete label change. System labels (INBOX, UNREAD)
// use their fixed names; user labels use their display names.
type Mutation struct {
	Op    Op
	Label string
}

const (
	labelInbox  = "INBOX"
	labelUnread = "UNREAD"
)

// Actions is the desired end state for a matched message.
type Actions struct {
	Mark string // "read", "unread" or empty
	Move string // target label name, or empty
}

// Build compares the desired end state against the message's current
// label-name set and emits only the mutations needed to reach it.
// Planning against an already-satisfied state yields an empty plan.
// Removals are ordered before additions so the whole plan can be applied
// as one logical unit without the message transiently losing every label.
func Build(a Actions, current map[string]bool) []Mutation {
	var removes, adds []Mutation

	switch a.Mark {
	case "read":
		if current[labelUnread] {
			removes = append(removes, Mutation{Op: RemoveLabel, Label: labelUnread})
		}
	case "unread":
		if !current[labelUnread] {
			adds = append(adds, Mutation{Op: AddLabel, Label: labelUnread})
		}
	}

	if a.Move != "" {
		if a.Move != labelInbox && current[labelInbox] {
			removes = append(removes, Mutation{Op: RemoveLabel, Label: labelInbox})
		}
		if !current[a.Move] {
			adds = append(adds, Mutation{Op: AddLabel, Label: a.Move})
		}
	}

	return append(removes, adds...)
}
