package application

import (
	"testing"

	"atlas/internal/service/checkout/domain"
)

const defaultExpr = `amount_cents > 10000 || reason == "refund_failed" ? "page" : "ticket"`

func TestPolicyEvaluate(t *testing.T) {
	policy, err := NewPolicy(defaultExpr)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	cases := []struct {
		name string
		task domain.ReconcileTask
		want string
	}{
		{"small amount", domain.ReconcileTask{OrderID: "o1", Reason: "save failed", AmountCents: 4999}, SeverityTicket},
		{"large amount", domain.ReconcileTask{OrderID: "o2", Reason: "save failed", AmountCents: 25000}, SeverityPage},
		{"refund failure always pages", domain.ReconcileTask{OrderID: "o3", Reason: "refund_failed", AmountCents: 100}, SeverityPage},
		{"boundary amount stays ticket", domain.ReconcileTask{OrderID: "o4", Reason: "timeout", AmountCents: 10000}, SeverityTicket},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := policy.Evaluate(tc.task)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPolicyUnknownSeverityPages(t *testing.T) {
	policy, err := NewPolicy(`"urgent-ish"`)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	got, err := policy.Evaluate(domain.ReconcileTask{OrderID: "o1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != SeverityPage {
		t.Fatalf("got %q, want page for an unrecognized severity", got)
	}
}

func TestPolicyRejectsBadExpressions(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"syntax error", `amount_cents >`},
		{"unknown variable", `user_id == "x" ? "page" : "ticket"`},
		{"non-string result", `amount_cents > 100`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPolicy(tc.expr); err == nil {
				t.Fatalf("expression %q compiled, want error", tc.expr)
			}
		})
	}
}
