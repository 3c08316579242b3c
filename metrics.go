package nvme

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets are histogram boundaries in nanoseconds, log-spaced
// from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Telemetry tracks per-controller operational counters: command
// throughput, bytes moved, command-level errors, and the queue-pair
// backpressure/programming-error counters internal/queue exposes.
// Grounded on go-ublk/metrics.go's atomic-counter-plus-histogram
// shape, adapted from block-device read/write/discard/flush counters
// to NVMe's read/write/identify split plus ring-level diagnostics that
// have no ublk equivalent.
type Telemetry struct {
	ReadOps     atomic.Uint64
	WriteOps    atomic.Uint64
	IdentifyOps atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ReadErrors     atomic.Uint64
	WriteErrors    atomic.Uint64
	IdentifyErrors atomic.Uint64

	// ShouldWaitTotal and ProgrammingErrorTotal are pulled from the
	// admin and I/O queue pairs' own counters at Snapshot time rather
	// than incremented directly; see Controller.Snapshot.
	ShouldWaitTotal       atomic.Uint64
	ProgrammingErrorTotal atomic.Uint64
	CommandTimeoutTotal   atomic.Uint64 // diagnostic only; does not affect command outcome

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewTelemetry constructs a Telemetry with its start time set to now.
func NewTelemetry() *Telemetry {
	t := &Telemetry{}
	t.StartTime.Store(time.Now().UnixNano())
	return t
}

func (t *Telemetry) RecordRead(bytes, latencyNs uint64, success bool) {
	t.ReadOps.Add(1)
	if success {
		t.ReadBytes.Add(bytes)
	} else {
		t.ReadErrors.Add(1)
	}
	t.recordLatency(latencyNs)
}

func (t *Telemetry) RecordWrite(bytes, latencyNs uint64, success bool) {
	t.WriteOps.Add(1)
	if success {
		t.WriteBytes.Add(bytes)
	} else {
		t.WriteErrors.Add(1)
	}
	t.recordLatency(latencyNs)
}

func (t *Telemetry) RecordIdentify(latencyNs uint64, success bool) {
	t.IdentifyOps.Add(1)
	if !success {
		t.IdentifyErrors.Add(1)
	}
	t.recordLatency(latencyNs)
}

func (t *Telemetry) recordLatency(latencyNs uint64) {
	t.TotalLatencyNs.Add(latencyNs)
	t.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			t.LatencyBuckets[i].Add(1)
		}
	}
}

func (t *Telemetry) Stop() { t.StopTime.Store(time.Now().UnixNano()) }

// TelemetrySnapshot is a point-in-time, non-atomic view of Telemetry.
type TelemetrySnapshot struct {
	ReadOps, WriteOps, IdentifyOps          uint64
	ReadBytes, WriteBytes                   uint64
	ReadErrors, WriteErrors, IdentifyErrors uint64
	ShouldWaitTotal, ProgrammingErrorTotal, CommandTimeoutTotal uint64

	AvgLatencyNs  uint64
	UptimeNs      uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS, WriteIOPS           float64
	ReadBandwidth, WriteBandwidth float64
	TotalOps, TotalBytes          uint64
	ErrorRate                     float64
}

// Snapshot computes a TelemetrySnapshot from the current counter
// values.
func (t *Telemetry) Snapshot() TelemetrySnapshot {
	snap := TelemetrySnapshot{
		ReadOps:               t.ReadOps.Load(),
		WriteOps:              t.WriteOps.Load(),
		IdentifyOps:           t.IdentifyOps.Load(),
		ReadBytes:             t.ReadBytes.Load(),
		WriteBytes:            t.WriteBytes.Load(),
		ReadErrors:            t.ReadErrors.Load(),
		WriteErrors:           t.WriteErrors.Load(),
		IdentifyErrors:        t.IdentifyErrors.Load(),
		ShouldWaitTotal:       t.ShouldWaitTotal.Load(),
		ProgrammingErrorTotal: t.ProgrammingErrorTotal.Load(),
		CommandTimeoutTotal:   t.CommandTimeoutTotal.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.IdentifyOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	opCount := t.OpCount.Load()
	totalLatencyNs := t.TotalLatencyNs.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := t.StartTime.Load()
	stopTime := t.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.IdentifyErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = t.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = t.calculatePercentile(0.50)
		snap.LatencyP99Ns = t.calculatePercentile(0.99)
		snap.LatencyP999Ns = t.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets.
func (t *Telemetry) calculatePercentile(percentile float64) uint64 {
	totalOps := t.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := t.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = t.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer lets callers plug in their own metrics sink instead of (or
// alongside) Telemetry.
type Observer interface {
	ObserveRead(bytes, latencyNs uint64, success bool)
	ObserveWrite(bytes, latencyNs uint64, success bool)
	ObserveIdentify(latencyNs uint64, success bool)
}

// NoOpObserver discards everything.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveIdentify(uint64, bool)      {}

// TelemetryObserver implements Observer by recording into a Telemetry.
type TelemetryObserver struct {
	telemetry *Telemetry
}

func NewTelemetryObserver(t *Telemetry) *TelemetryObserver { return &TelemetryObserver{telemetry: t} }

func (o *TelemetryObserver) ObserveRead(bytes, latencyNs uint64, success bool) {
	o.telemetry.RecordRead(bytes, latencyNs, success)
}
func (o *TelemetryObserver) ObserveWrite(bytes, latencyNs uint64, success bool) {
	o.telemetry.RecordWrite(bytes, latencyNs, success)
}
func (o *TelemetryObserver) ObserveIdentify(latencyNs uint64, success bool) {
	o.telemetry.RecordIdentify(latencyNs, success)
}

var _ Observer = (*TelemetryObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
