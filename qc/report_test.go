package qc

import (
	"strings"
	"testing"
)

func TestReport(t *testing.T) {
	r := &Report{}
	r.Add("birth dates are June 15", 0)
	if !r.Passed() {
		t.Fatal("report with zero failures should pass")
	}

	r.Add("no dates before birth date", 12)
	if r.Passed() {
		t.Fatal("report with failing check should not pass")
	}

	out := &strings.Builder{}
	r.WriteSummary(out)

	expected := "check\tresult\tfailing_rows\n" +
		"birth dates are June 15\tPASS\t0\n" +
		"no dates before birth date\tFAILURE\t12\n"
	if out.String() != expected {
		t.Fatalf("got:\n%q\nexpected:\n%q", out.String(), expected)
	}
}
