package host

import (
	"context"
	"testing"
)

func TestReaderSamplesLocalMachine(t *testing.T) {
	r := NewReader()
	ctx := context.Background()

	pct, err := r.CPUPercent(ctx)
	if err != nil {
		t.Skipf("cpu sampling unsupported here: %v", err)
	}
	if pct < 0 {
		t.Errorf("CPUPercent() = %v, want >= 0", pct)
	}

	m, err := r.Memory(ctx)
	if err != nil {
		t.Skipf("memory sampling unsupported here: %v", err)
	}
	if m.TotalBytes == 0 {
		t.Error("Memory().TotalBytes = 0")
	}
	if m.UsedBytes > m.TotalBytes {
		t.Errorf("used %d exceeds total %d", m.UsedBytes, m.TotalBytes)
	}
}
