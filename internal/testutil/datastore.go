package testutil

import (
	"fmt"
	"strings"
)

// NewTestDSN names a shared-cache memory database after a test. Subtest
// separators become underscores so the name is one path segment.
func NewTestDSN(testName string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(testName, "/", "_"))
}
