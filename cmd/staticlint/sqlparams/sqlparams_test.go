package sqlparams

import (
	"testing"

	"golang.org/x/tools/go/analysis/analysistest"
)

// Test runs the sqlparams Analyzer against test data using analysistest.
func Test(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), Analyzer, "a")
}
