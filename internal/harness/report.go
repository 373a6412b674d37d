package harness

import (
	"fmt"
	"io"
)

// Report prints every captured result verbatim, then each error, then the
// verdict. It returns the exit code: 0 on pass, 1 otherwise.
func Report(w io.Writer, result *Result) int {
	for _, res := range result.Results {
		fmt.Fprintf(w, "%s %s\n", res.Name, res.String())
	}
	for _, msg := range result.Errors {
		fmt.Fprintln(w, msg)
	}

	verdict := "PASS"
	if !result.Pass {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "%s %s\n", verdict, result.Scenario)

	return result.ExitCode()
}

// ReportAll reports each result in order and returns 1 if any failed.
func ReportAll(w io.Writer, results []*Result) int {
	code := 0
	for _, r := range results {
		if Report(w, r) != 0 {
			code = 1
		}
	}
	return code
}
