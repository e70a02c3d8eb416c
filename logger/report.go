package logger

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	errorCount    int64
	warnCount     int64
	tickCount     int64
	appendCount   int64
	fetchFailures int64
	persistBytes  int64
)

func recordWarn()  { atomic.AddInt64(&warnCount, 1) }
func recordError() { atomic.AddInt64(&errorCount, 1) }

// IncrementTick counts one scheduler tick.
func IncrementTick() { atomic.AddInt64(&tickCount, 1) }

// IncrementAppend counts one record appended to a series.
func IncrementAppend() { atomic.AddInt64(&appendCount, 1) }

// IncrementFetchFailure counts one tick whose quote fetch failed.
func IncrementFetchFailure() { atomic.AddInt64(&fetchFailures, 1) }

// RecordPersist counts bytes written by a store flush.
func RecordPersist(size int) { atomic.AddInt64(&persistBytes, int64(size)) }

// Counters is a point-in-time copy of the report counters.
type Counters struct {
	Ticks         int64
	Appends       int64
	FetchFailures int64
	Warns         int64
	Errors        int64
	PersistBytes  int64
}

// Snapshot returns the current counter values.
func Snapshot() Counters {
	return Counters{
		Ticks:         atomic.LoadInt64(&tickCount),
		Appends:       atomic.LoadInt64(&appendCount),
		FetchFailures: atomic.LoadInt64(&fetchFailures),
		Warns:         atomic.LoadInt64(&warnCount),
		Errors:        atomic.LoadInt64(&errorCount),
		PersistBytes:  atomic.LoadInt64(&persistBytes),
	}
}

// StartReport logs counters and host usage every interval until ctx ends.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	var memUsed uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsed = vm.Used
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c := Snapshot()
	log.WithComponent("report").WithFields(Fields{
		"ticks":          c.Ticks,
		"appends":        c.Appends,
		"fetch_failures": c.FetchFailures,
		"warns":          c.Warns,
		"errors":         c.Errors,
		"persisted":      humanize.Bytes(uint64(c.PersistBytes)),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory":         humanize.Bytes(memUsed),
		"heap":           humanize.Bytes(ms.HeapAlloc),
	}).Info("runtime report")

	count := func(name string, v int64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(v))}
	}
	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		count("Ticks", c.Ticks),
		count("Appends", c.Appends),
		count("FetchFailures", c.FetchFailures),
		count("Warns", c.Warns),
		count("Errors", c.Errors),
	})
}
