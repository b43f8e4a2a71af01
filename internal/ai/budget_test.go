package ai

import (
	"testing"
)

func TestInMemoryBudget_Check(t *testing.T) {
	tests := []struct {
		name         string
		defaultLimit int64
		override     int64 // 0 = no override
		record       []int
		want         bool
	}{
		{"unlimited default", 0, 0, []int{1_000_000}, true},
		{"within default", 1000, 0, []int{500}, true},
		{"exactly exhausted", 100, 0, []int{100}, false},
		{"over budget", 100, 0, []int{60, 60}, false},
		{"override raises limit", 100, 1000, []int{500}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewInMemoryBudget(tt.defaultLimit)
			if tt.override > 0 {
				b.SetBudget("alg-1", tt.override)
			}
			for _, n := range tt.record {
				if err := b.Record("alg-1", n); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}

			ok, err := b.Check("alg-1")
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("Check() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestInMemoryBudget_Usage(t *testing.T) {
	b := NewInMemoryBudget(1000)
	b.Record("alg-1", 100)
	b.Record("alg-1", 200)
	b.Record("geo-1", 50)

	used, limit, err := b.Usage("alg-1")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if used != 300 || limit != 1000 {
		t.Errorf("Usage() = (%d, %d), want (300, 1000)", used, limit)
	}
}

func TestInMemoryBudget_NegativeTokens(t *testing.T) {
	b := NewInMemoryBudget(0)
	if err := b.Record("alg-1", -10); err == nil {
		t.Fatal("Record() should return error for negative tokens")
	}
}
