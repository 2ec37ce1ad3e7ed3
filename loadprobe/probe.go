// Package loadprobe periodically samples device CPU and memory pressure
// and derives the advisory hints published to every connected session.
package loadprobe

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/firasghr/pibox-server/logger"
	"github.com/firasghr/pibox-server/protocol"
	"github.com/firasghr/pibox-server/state"
)

// defaultInterval is used when the configured report interval is ≤0.
const defaultInterval = 5 * time.Second

// sampleWindow is the blocking window cpu.PercentWithContext averages
// over. A non-zero window yields one blocking, averaged sample per call
// rather than an instantaneous (and noisier) reading.
const sampleWindow = 500 * time.Millisecond

// Probe samples system load on a ticker and publishes a state.Load
// snapshot plus a broadcast to every subscribed session on each tick.
type Probe struct {
	state    *state.State
	log      *logger.Logger
	interval time.Duration
}

// New creates a Probe that publishes into st every interval (a value ≤0
// is replaced with the default of 5 seconds).
func New(st *state.State, log *logger.Logger, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Probe{state: st, log: log, interval: interval}
}

// Run ticks until ctx is cancelled. Sample failures are logged at debug
// level and never fatal: the previous snapshot in state.State is left in
// place until the next successful sample.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Probe) tick(ctx context.Context) {
	cpuPercent, err := sampleCPU(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Debugf("loadprobe: cpu sample failed: %v", err)
		}
		return
	}
	ramFreeMB, err := sampleFreeRAM(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Debugf("loadprobe: memory sample failed: %v", err)
		}
		return
	}

	hints := DeriveHints(cpuPercent, ramFreeMB)
	strHints := make([]string, len(hints))
	for i, h := range hints {
		strHints[i] = string(h)
	}

	load := state.Load{
		CPUPercent: cpuPercent,
		RAMFreeMB:  ramFreeMB,
		IOBusy:     IOBusy(cpuPercent),
		Hints:      strHints,
	}
	p.state.SetLoad(load)
	p.state.Broadcast(protocol.NewLoad(load.CPUPercent, load.RAMFreeMB, load.IOBusy, strHints))
	p.state.PrunePendingOffloads()
}

func sampleCPU(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, sampleWindow, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func sampleFreeRAM(ctx context.Context) (int, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return int(vm.Available / (1024 * 1024)), nil
}
