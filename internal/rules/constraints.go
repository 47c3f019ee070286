package rules

import "fmt"

// Field names a constraint a rule phrase can set.
type Field string

const (
	FieldUID         Field = "uid"
	FieldPackageName Field = "packagename"
	FieldHost        Field = "host"
	FieldIPv4        Field = "ipv4"
)

// ConstraintSet holds the fields parsed from one rule line. Every field may
// be set at most once; a second Put returns an *InvariantError.
type ConstraintSet struct {
	uid     UID
	hasUID  bool
	values  map[Field]string
	ignored []string
}

// NewConstraintSet returns an empty ConstraintSet.
func NewConstraintSet() *ConstraintSet {
	return &ConstraintSet{values: make(map[Field]string, 3)}
}

// PutUID sets the uid field.
func (c *ConstraintSet) PutUID(uid UID) error {
	if c.hasUID {
		return &InvariantError{Field: FieldUID}
	}
	c.uid = uid
	c.hasUID = true
	return nil
}

// PutString sets one of the string fields.
func (c *ConstraintSet) PutString(f Field, v string) error {
	switch f {
	case FieldPackageName, FieldHost, FieldIPv4:
	default:
		return fmt.Errorf("rules: field %q is not a string field", string(f))
	}
	if _, ok := c.values[f]; ok {
		return &InvariantError{Field: f}
	}
	c.values[f] = v
	return nil
}

// UID returns the uid field and whether it is set.
func (c *ConstraintSet) UID() (UID, bool) {
	return c.uid, c.hasUID
}

// String returns a string field and whether it is set.
func (c *ConstraintSet) String(f Field) (string, bool) {
	v, ok := c.values[f]
	return v, ok
}

// Has reports whether the field is set.
func (c *ConstraintSet) Has(f Field) bool {
	if f == FieldUID {
		return c.hasUID
	}
	_, ok := c.values[f]
	return ok
}

// Len returns the number of fields set.
func (c *ConstraintSet) Len() int {
	n := len(c.values)
	if c.hasUID {
		n++
	}
	return n
}

// Ignored returns the phrases the parser did not recognize.
func (c *ConstraintSet) Ignored() []string {
	return c.ignored
}
