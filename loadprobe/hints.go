package loadprobe

// Hint is one of the closed set of advisory signals published alongside a
// load report.
type Hint string

const (
	HintThrottleTransfers       Hint = "throttle_transfers"
	HintGenerateThumbnailsLocal Hint = "generate_thumbnails_locally"
	HintSearchLocally           Hint = "search_locally"
	HintRecovering              Hint = "recovering"
)

const (
	cpuCriticalPercent = 95.0
	cpuElevatedPercent = 80.0
	ramCriticalMB      = 50
	ramLowMB           = 100
)

// DeriveHints is a pure function of (cpuPercent, ramFreeMB) implementing
// the threshold table: thresholds are additive (a RAM condition can add
// hints on top of whatever the CPU thresholds already produced), hints are
// de-duplicated, and emission order follows the table's definition order
// rather than the order conditions are evaluated below.
func DeriveHints(cpuPercent float64, ramFreeMB int) []Hint {
	set := make(map[Hint]struct{})

	switch {
	case cpuPercent >= cpuCriticalPercent:
		set[HintThrottleTransfers] = struct{}{}
		set[HintGenerateThumbnailsLocal] = struct{}{}
		set[HintSearchLocally] = struct{}{}
		set[HintRecovering] = struct{}{}
	case cpuPercent >= cpuElevatedPercent:
		set[HintThrottleTransfers] = struct{}{}
		set[HintGenerateThumbnailsLocal] = struct{}{}
	}

	if ramFreeMB <= ramLowMB {
		set[HintSearchLocally] = struct{}{}
	}
	if ramFreeMB <= ramCriticalMB {
		set[HintThrottleTransfers] = struct{}{}
		set[HintRecovering] = struct{}{}
	}

	ordered := []Hint{HintThrottleTransfers, HintGenerateThumbnailsLocal, HintSearchLocally, HintRecovering}
	out := make([]Hint, 0, len(ordered))
	for _, h := range ordered {
		if _, ok := set[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

// IOBusy reports the proxy I/O-busy signal: true when CPU exceeds the
// elevated threshold. A real disk-I/O probe may replace this without a
// protocol change, since clients only ever see the resulting boolean.
func IOBusy(cpuPercent float64) bool {
	return cpuPercent > cpuElevatedPercent
}
