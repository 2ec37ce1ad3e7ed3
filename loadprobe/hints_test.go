package loadprobe_test

import (
	"reflect"
	"testing"

	"github.com/firasghr/pibox-server/loadprobe"
)

func hintStrings(hints []loadprobe.Hint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = string(h)
	}
	return out
}

func TestDeriveHintsTable(t *testing.T) {
	cases := []struct {
		name      string
		cpu       float64
		ram       int
		wantHints []string
	}{
		{"idle", 10, 2000, nil},
		{"cpu critical", 96, 2000, []string{"throttle_transfers", "generate_thumbnails_locally", "search_locally", "recovering"}},
		{"cpu elevated", 85, 2000, []string{"throttle_transfers", "generate_thumbnails_locally"}},
		{"ram critical", 10, 40, []string{"throttle_transfers", "search_locally", "recovering"}},
		{"ram low", 10, 80, []string{"search_locally"}},
		{"cpu elevated and ram low additive", 85, 80, []string{"throttle_transfers", "generate_thumbnails_locally", "search_locally"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := hintStrings(loadprobe.DeriveHints(tc.cpu, tc.ram))
			if tc.wantHints == nil {
				tc.wantHints = []string{}
			}
			if !reflect.DeepEqual(got, tc.wantHints) {
				t.Errorf("got %v, want %v", got, tc.wantHints)
			}
		})
	}
}

// TestHintMonotonicityAcrossCPU verifies testable property 5: for fixed
// RAM, increasing CPU never removes a hint that was already present.
func TestHintMonotonicityAcrossCPU(t *testing.T) {
	ram := 2000
	prev := map[loadprobe.Hint]bool{}
	for cpuVal := 0.0; cpuVal <= 100; cpuVal += 1 {
		hints := loadprobe.DeriveHints(cpuVal, ram)
		cur := map[loadprobe.Hint]bool{}
		for _, h := range hints {
			cur[h] = true
		}
		for h := range prev {
			if !cur[h] {
				t.Fatalf("hint %q present at a lower CPU but absent at cpu=%v", h, cpuVal)
			}
		}
		prev = cur
	}
}

// TestHintMonotonicityAcrossRAM verifies testable property 5: for fixed
// CPU, decreasing RAM never removes a hint that was already present.
func TestHintMonotonicityAcrossRAM(t *testing.T) {
	cpuVal := 10.0
	prev := map[loadprobe.Hint]bool{}
	for ram := 2000; ram >= 0; ram -= 10 {
		hints := loadprobe.DeriveHints(cpuVal, ram)
		cur := map[loadprobe.Hint]bool{}
		for _, h := range hints {
			cur[h] = true
		}
		for h := range prev {
			if !cur[h] {
				t.Fatalf("hint %q present at higher RAM but absent at ram=%d", h, ram)
			}
		}
		prev = cur
	}
}

func TestIOBusy(t *testing.T) {
	if loadprobe.IOBusy(50) {
		t.Error("expected IOBusy=false at cpu=50")
	}
	if !loadprobe.IOBusy(90) {
		t.Error("expected IOBusy=true at cpu=90")
	}
}
