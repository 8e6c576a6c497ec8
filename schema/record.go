// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package schema

import "sort"

// Record is a dynamic set of named field values. A missing key means the
// field is not set, which is distinct from a field set to its zero
// value.
type Record map[string]any

// Names returns the field names in sorted order.
func (r Record) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy; nested records are copied recursively.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	clone := make(Record, len(r))
	for name, value := range r {
		if sub, ok := value.(Record); ok {
			clone[name] = sub.Clone()
			continue
		}
		clone[name] = value
	}
	return clone
}

// Merge deep-updates r with other: overlapping nested records recurse,
// scalar values replace, and a record/scalar clash fails.
func (r Record) Merge(other Record) error {
	for name, value := range other {
		existing, ok := r[name]
		if !ok {
			r[name] = value
			continue
		}
		existingSub, existingIsRecord := existing.(Record)
		newSub, newIsRecord := value.(Record)
		switch {
		case existingIsRecord && newIsRecord:
			if err := existingSub.Merge(newSub); err != nil {
				return err
			}
		case existingIsRecord || newIsRecord:
			return ErrSchema.New("cannot merge field %q: record and scalar clash", name)
		default:
			r[name] = value
		}
	}
	return nil
}

// Properties maps namespace names to their records.
type Properties map[string]Record

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	clone := make(Properties, len(p))
	for name, record := range p {
		clone[name] = record.Clone()
	}
	return clone
}

// Namespaces returns the namespace names in sorted order.
func (p Properties) Namespaces() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge deep-updates every namespace record.
func (p Properties) Merge(other Properties) error {
	for name, record := range other {
		existing, ok := p[name]
		if !ok {
			p[name] = record.Clone()
			continue
		}
		if err := existing.Merge(record); err != nil {
			return ErrSchema.New("namespace %q: %v", name, err)
		}
	}
	return nil
}
