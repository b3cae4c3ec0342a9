//go:build tools

// Development tools pinned in go.mod so `go run` resolves the same version
// for everyone working on lares.

package lares

import (
	_ "golang.org/x/tools/cmd/goimports"
)
