package domain

import (
	"testing"
)

func TestReservationKeysAreStable(t *testing.T) {
	order, err := NewOrder("o-42", "u1", []Line{
		{ItemID: "TS-001", Size: "M", Quantity: 2, UnitPriceCents: 1999},
		{ItemID: "HD-204", Size: "XL", Quantity: 1, UnitPriceCents: 5499},
	})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}

	keys := order.ReservationKeys()
	want := []string{"o-42:TS-001:M", "o-42:HD-204:XL"}
	for i, key := range keys {
		if key != want[i] {
			t.Fatalf("key[%d] = %q, want %q", i, key, want[i])
		}
	}
	if order.TotalCents() != 2*1999+5499 {
		t.Fatalf("total %d cents, want the line sum", order.TotalCents())
	}
}

func TestOrderStateTransitions(t *testing.T) {
	order, err := NewOrder("o1", "u1", []Line{{ItemID: "TS-001", Size: "M", Quantity: 1, UnitPriceCents: 100}})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}

	if err := order.MarkCompleted(); err == nil {
		t.Fatal("completed a pending order without processing")
	}
	if err := order.MarkProcessing(); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := order.MarkProcessing(); err == nil {
		t.Fatal("re-entered processing")
	}
	if err := order.MarkCompleted(); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := order.MarkCancelled(); err == nil {
		t.Fatal("cancelled a completed order")
	}
}

func TestNewOrderValidation(t *testing.T) {
	cases := []struct {
		name  string
		id    string
		user  string
		lines []Line
	}{
		{"no lines", "o1", "u1", nil},
		{"missing user", "o1", "", []Line{{ItemID: "a", Size: "M", Quantity: 1}}},
		{"zero quantity", "o1", "u1", []Line{{ItemID: "a", Size: "M", Quantity: 0}}},
		{"missing size", "o1", "u1", []Line{{ItemID: "a", Quantity: 1}}},
		{"duplicate item and size", "o1", "u1", []Line{
			{ItemID: "a", Size: "M", Quantity: 1},
			{ItemID: "a", Size: "M", Quantity: 9},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewOrder(tc.id, tc.user, tc.lines); err == nil {
				t.Fatal("invalid order accepted")
			}
		})
	}
}
