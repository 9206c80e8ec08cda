package directory

// Field names a member attribute a predicate condition can match against.
type Field string

const (
	// FieldEmail matches the member's email (the SCIM userName).
	FieldEmail Field = "email"
	// FieldUserID matches the directory user id exactly.
	FieldUserID Field = "user_id"
	// FieldActive matches on the presence of a deactivation timestamp.
	FieldActive Field = "active"
	// FieldNone is a placeholder that matches nothing by itself. The filter
	// translator emits it for externalId comparisons; the caller resolves the
	// external id and replaces the condition with a FieldUserID one.
	FieldNone Field = ""
)

// Match is a string comparison mode. Email matches are case-insensitive.
type Match string

const (
	MatchEquals   Match = "eq"
	MatchContains Match = "co"
	MatchPrefix   Match = "sw"
)

// Condition is one attribute comparison inside a MemberPredicate.
type Condition struct {
	Field  Field
	Match  Match
	Value  string
	Active bool // used only when Field == FieldActive
}

// MemberPredicate is a flat conjunction or disjunction of conditions. The
// filter grammar refuses mixed and/or nesting, so one level is sufficient.
type MemberPredicate struct {
	// Disjunction ORs the conditions together; the default is AND.
	Disjunction bool
	Conditions  []Condition
}

// MemberQuery bundles an optional predicate with pagination.
type MemberQuery struct {
	Predicate *MemberPredicate
	Offset    int
	Limit     int
}
