// Package rules turns allow-rule text into typed whitelist rules and loads
// them from a rule source into a whitelist sink.
//
// The rule language is a single line:
//
//	allow <phrase> [<phrase> ...]
//
// where each phrase is one of "packagename:NAME", "host:PATTERN" or
// "ipv4:PATTERN". Phrases are separated by single spaces and may appear in
// any order. Unknown phrase types are ignored.
package rules

import "fmt"

// UID is the numeric identity an application name resolves to.
type UID int

// GlobalScope is the scope of rules that apply to every application.
const GlobalScope UID = 0

// DefaultPriority is the priority assigned to every translated rule.
const DefaultPriority = 1

// Rule is a single whitelist rule. It is implemented by DomainRule and IPRule
// only; consumers switch on the concrete type.
type Rule interface {
	fmt.Stringer
	isRule()
}

// DomainRule allows traffic to hosts matching Pattern.
type DomainRule struct {
	Pattern  string
	Priority int
}

func (DomainRule) isRule() {}

func (r DomainRule) String() string {
	return fmt.Sprintf("host:%s (priority %d)", r.Pattern, r.Priority)
}

// IPRule allows traffic to IPv4 addresses matching Pattern.
type IPRule struct {
	Pattern  string
	Priority int
}

func (IPRule) isRule() {}

func (r IPRule) String() string {
	return fmt.Sprintf("ipv4:%s (priority %d)", r.Pattern, r.Priority)
}

// ScopedRule pairs a rule with the application scope it applies to.
type ScopedRule struct {
	Scope UID
	Rule  Rule
}

// IsGlobal reports whether the rule applies to all applications.
func (s ScopedRule) IsGlobal() bool {
	return s.Scope == GlobalScope
}

func (s ScopedRule) String() string {
	if s.IsGlobal() {
		return "global " + s.Rule.String()
	}
	return fmt.Sprintf("uid %d %s", s.Scope, s.Rule)
}
