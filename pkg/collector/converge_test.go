package collector

import "testing"

func TestConvergence(t *testing.T) {
	tests := []struct {
		name      string
		extents   []int64
		items     []int
		wantState ScrollState
		wantSteps int
	}{
		{
			name:      "stable when extent stops growing",
			extents:   []int64{100, 150, 150},
			items:     []int{10, 60, 60},
			wantState: Stable,
			wantSteps: 3,
		},
		{
			name:      "capped when items exceed the cap",
			extents:   []int64{100, 200},
			items:     []int{50, 120},
			wantState: Capped,
			wantSteps: 2,
		},
		{
			name:      "first measurement never stabilizes",
			extents:   []int64{0},
			items:     []int{0},
			wantState: Growing,
			wantSteps: 1,
		},
		{
			name:      "cap wins over an unchanged extent",
			extents:   []int64{300, 300},
			items:     []int{90, 101},
			wantState: Capped,
			wantSteps: 2,
		},
		{
			name:      "exactly the cap is not capped",
			extents:   []int64{100, 200},
			items:     []int{100, 100},
			wantState: Growing,
			wantSteps: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConvergence(100)
			var state ScrollState
			for i := range tt.extents {
				if c.State().Terminal() {
					t.Fatalf("loop should have stopped before measurement %d", i+1)
				}
				state = c.Observe(tt.extents[i], tt.items[i])
			}
			if state != tt.wantState {
				t.Fatalf("expected state %s, got %s", tt.wantState, state)
			}
			if c.Steps() != tt.wantSteps {
				t.Fatalf("expected %d steps, got %d", tt.wantSteps, c.Steps())
			}
		})
	}
}

func TestConvergence_TerminalIsSticky(t *testing.T) {
	c := NewConvergence(10)
	c.Observe(100, 20)
	if got := c.Observe(200, 0); got != Capped {
		t.Fatalf("expected terminal state to stick, got %s", got)
	}
	if c.Steps() != 1 {
		t.Fatalf("expected observations after termination to be ignored, got %d steps", c.Steps())
	}
}
