package groups

import "sort"

// MembershipSet is the set of group names a device belongs to. The zero value is
// an empty set. Empty names are never stored.
type MembershipSet struct {
	names map[string]struct{}
}

// NewMembershipSet builds a set from names, dropping empty strings and duplicates.
func NewMembershipSet(names ...string) MembershipSet {
	set := MembershipSet{names: make(map[string]struct{}, len(names))}

	for _, name := range names {
		if name == "" {
			continue
		}

		set.names[name] = struct{}{}
	}

	return set
}

func (s MembershipSet) Contains(name string) bool {
	_, ok := s.names[name]

	return ok
}

func (s MembershipSet) Len() int {
	return len(s.names)
}

// Sorted returns a copy of the names in lexical order.
func (s MembershipSet) Sorted() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Equal reports whether both sets hold the same names.
func (s MembershipSet) Equal(other MembershipSet) bool {
	if s.Len() != other.Len() {
		return false
	}

	for name := range s.names {
		if !other.Contains(name) {
			return false
		}
	}

	return true
}
