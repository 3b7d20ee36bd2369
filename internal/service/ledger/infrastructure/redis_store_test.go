package infrastructure

import (
	"regexp"
	"testing"
)

// Scripts may only touch keys passed in KEYS; a key assembled inside the
// script breaks the EVAL contract and fails outright under Redis Cluster,
// where undeclared keys are not routed to the executing node.
func TestScriptsTouchOnlyDeclaredKeys(t *testing.T) {
	literalKeyCall := regexp.MustCompile(`redis\.call\(\s*'[a-z]+'\s*,\s*[^K\s]`)
	scripts := map[string]string{
		"reserve": reserveScriptSrc,
		"release": releaseScriptSrc,
		"commit":  commitScriptSrc,
	}
	for name, src := range scripts {
		if match := literalKeyCall.FindString(src); match != "" {
			t.Fatalf("%s script addresses an undeclared key: %q", name, match)
		}
	}
}
