package types

// Upsert is the argument of Backend.Upsert. It is either NewRule, which asks
// the store to assign an ID, or ExistingRule, which updates the row with the
// given ID.
type Upsert interface {
	record() Rule
	isUpsert()
}

// NewRule inserts Rule as a new row. Any ID on Rule is ignored.
type NewRule struct {
	Rule Rule
}

// ExistingRule updates the row identified by ID with the fields of Rule.
type ExistingRule struct {
	ID   string
	Rule Rule
}

func (n NewRule) record() Rule {
	r := n.Rule
	r.ID = ""
	return r
}

func (NewRule) isUpsert() {}

func (e ExistingRule) record() Rule {
	r := e.Rule
	r.ID = e.ID
	return r
}

func (ExistingRule) isUpsert() {}

// Record returns the rule carried by u with its ID set per the variant:
// empty for NewRule, the target ID for ExistingRule.
func Record(u Upsert) Rule {
	return u.record()
}

// UpsertOf builds the variant for r: NewRule when r.ID is empty,
// ExistingRule otherwise.
func UpsertOf(r Rule) Upsert {
	if r.ID == "" {
		return NewRule{Rule: r}
	}
	return ExistingRule{ID: r.ID, Rule: r}
}
