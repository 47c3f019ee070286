package rules

// Translate converts a ConstraintSet into a ScopedRule.
//
// The scope is the resolved UID when a package was named, otherwise
// GlobalScope. Exactly one of host and ipv4 must be set: both returns
// ErrConflict, neither returns ErrNoTarget.
func Translate(cs *ConstraintSet) (ScopedRule, error) {
	scope := GlobalScope
	if uid, ok := cs.UID(); ok {
		scope = uid
	}

	host, hasHost := cs.String(FieldHost)
	ip, hasIP := cs.String(FieldIPv4)

	switch {
	case hasHost && hasIP:
		return ScopedRule{}, ErrConflict
	case hasHost:
		return ScopedRule{Scope: scope, Rule: DomainRule{Pattern: host, Priority: DefaultPriority}}, nil
	case hasIP:
		return ScopedRule{Scope: scope, Rule: IPRule{Pattern: ip, Priority: DefaultPriority}}, nil
	default:
		return ScopedRule{}, ErrNoTarget
	}
}

// ParseRule parses and translates a single line.
func ParseRule(text string, resolver Resolver) (ScopedRule, error) {
	cs, err := ParseLine(text, resolver)
	if err != nil {
		return ScopedRule{}, err
	}
	return Translate(cs)
}
