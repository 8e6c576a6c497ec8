// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package main

import (
	"muninn.io/muninn/archive"
)

// registerExtensions registers namespace definitions, product type
// plugins, remote backends and hook extensions on the archive handle.
//
// Extensions are compiled in: deployments add their registrations here
// (or vendor this command and provide their own file).
func registerExtensions(a *archive.Archive) error {
	return nil
}
