// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package schema

import "sort"

// Namespaces maps namespace names to their definitions. The core
// namespace is always present.
type Namespaces map[string]*Namespace

// NewNamespaces builds a namespace set seeded with the core namespace.
func NewNamespaces(extensions ...*Namespace) (Namespaces, error) {
	namespaces := Namespaces{"core": CoreNamespace}
	for _, ns := range extensions {
		if _, ok := namespaces[ns.Name]; ok {
			return nil, ErrSchema.New("duplicate namespace %q", ns.Name)
		}
		namespaces[ns.Name] = ns
	}
	return namespaces, nil
}

// Names returns the namespace names in sorted order, core first.
func (n Namespaces) Names() []string {
	names := make([]string, 0, len(n))
	for name := range n {
		if name != "core" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{"core"}, names...)
}

// Validate checks the properties of every namespace present.
func (n Namespaces) Validate(properties Properties, partial bool) error {
	for name, record := range properties {
		ns, ok := n[name]
		if !ok {
			return ErrSchema.New("undefined namespace: %q", name)
		}
		if err := ns.Validate(record, partial); err != nil {
			return err
		}
	}
	return nil
}
