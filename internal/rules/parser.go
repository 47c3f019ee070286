package rules

import (
	"fmt"
	"strings"
)

const (
	allowPrefix       = "allow "
	packageNamePrefix = "packagename:"
	hostPrefix        = "host:"
	ipv4Prefix        = "ipv4:"
)

// Resolver maps an application package name to its UID.
type Resolver interface {
	Resolve(name string) (UID, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string) (UID, error)

// Resolve calls f(name).
func (f ResolverFunc) Resolve(name string) (UID, error) {
	return f(name)
}

// ParseLine tokenizes one rule line into a ConstraintSet.
//
// Lines that do not start with "allow " return ErrNotRule. A packagename
// phrase is resolved through resolver; if that fails the whole line is
// rejected with an error wrapping ErrRejected. A field given twice returns
// an *InvariantError.
func ParseLine(text string, resolver Resolver) (*ConstraintSet, error) {
	constraints, ok := strings.CutPrefix(text, allowPrefix)
	if !ok {
		return nil, ErrNotRule
	}

	cs := NewConstraintSet()
	for _, phrase := range strings.Split(constraints, " ") {
		switch {
		case strings.HasPrefix(phrase, packageNamePrefix):
			name := strings.TrimPrefix(phrase, packageNamePrefix)
			if err := putPackage(cs, name, resolver); err != nil {
				return nil, err
			}

		case strings.HasPrefix(phrase, hostPrefix) && len(phrase) > len(hostPrefix):
			if err := cs.PutString(FieldHost, strings.TrimPrefix(phrase, hostPrefix)); err != nil {
				return nil, err
			}

		case strings.HasPrefix(phrase, ipv4Prefix) && len(phrase) > len(ipv4Prefix):
			if err := cs.PutString(FieldIPv4, strings.TrimPrefix(phrase, ipv4Prefix)); err != nil {
				return nil, err
			}

		case phrase == "":

		default:
			cs.ignored = append(cs.ignored, phrase)
		}
	}
	return cs, nil
}

func putPackage(cs *ConstraintSet, name string, resolver Resolver) error {
	if name == "" {
		return fmt.Errorf("%w: empty package name", ErrRejected)
	}
	if resolver == nil {
		return fmt.Errorf("%w: no resolver for package %q", ErrRejected, name)
	}
	uid, err := resolver.Resolve(name)
	if err != nil {
		return fmt.Errorf("%w: package %q not found: %w", ErrRejected, name, err)
	}
	if err := cs.PutUID(uid); err != nil {
		return err
	}
	return cs.PutString(FieldPackageName, name)
}
