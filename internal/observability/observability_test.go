package observability

import "testing"

func TestPercentileEmpty(t *testing.T) {
	if got := percentile(nil, 95); got != 0 {
		t.Errorf("got %v, want 0 for empty input", got)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	values := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if got := percentile(values, 95); got != 100 {
		t.Errorf("p95 got %v, want 100", got)
	}
	if got := percentile(values, 50); got != 50 {
		t.Errorf("p50 got %v, want 50", got)
	}
}

func TestPercentileSingleValue(t *testing.T) {
	if got := percentile([]int{42}, 95); got != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestPercentileUnsorted(t *testing.T) {
	values := []int{300, 100, 200}
	if got := percentile(values, 100); got != 300 {
		t.Errorf("p100 got %v, want 300", got)
	}
	if got := percentile(values, 1); got != 100 {
		t.Errorf("p1 got %v, want 100", got)
	}
}
