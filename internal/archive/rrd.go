// Package archive keeps a long-term, consolidated copy of every recorded
// sample in one RRD file per target.
package archive

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ziutek/rrd"

	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/probe"
	"github.com/wellsgz/pingmon/internal/target"
)

// Point is one consolidated row read back from an archive
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"` // NaN when every probe in the row failed
	Loss      float64   `json:"loss"`       // fraction of failed probes, 0..1
}

// RRDArchive writes probe results to per-target RRD files with a latency
// and a loss data source
type RRDArchive struct {
	dataDir     string
	step        time.Duration
	heartbeat   time.Duration
	xff         float64
	aggregation string // "AVERAGE", "MIN", "MAX", "LAST"

	rras []rraConfig

	updaters map[string]*rrd.Updater
	mu       sync.Mutex
}

// rraConfig defines an RRA (Round Robin Archive) configuration
type rraConfig struct {
	steps int // Number of primary data points per consolidated data point
	rows  int // Number of rows (consolidated data points) in the archive
}

// NewRRDArchive creates an archive under dataDir. step is the probe
// interval; retention is a list like "5s:1d,1m:7d,1h:90d".
func NewRRDArchive(dataDir string, step time.Duration, retention string, xff float64, aggregation string) (*RRDArchive, error) {
	if step < time.Second {
		step = time.Second
	}

	rras, err := parseRRAs(retention, step)
	if err != nil {
		return nil, fmt.Errorf("failed to parse retentions: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	aggUpper := strings.ToUpper(aggregation)
	if aggUpper == "" {
		aggUpper = "AVERAGE"
	}

	return &RRDArchive{
		dataDir:     dataDir,
		step:        step,
		heartbeat:   step * 3, // Heartbeat is 3x step for tolerance
		xff:         xff,
		aggregation: aggUpper,
		rras:        rras,
		updaters:    make(map[string]*rrd.Updater),
	}, nil
}

// Publish archives one probe result. Failures are logged and never reach
// the caller.
func (a *RRDArchive) Publish(r probe.Result) {
	ts := time.UnixMilli(r.Sample.Timestamp)
	if err := a.Write(r.Target, ts, r.Sample.LatencyMs, !r.Success); err != nil {
		logging.Debug("Archive", fmt.Sprintf("Failed to archive sample for %s: %v", r.Target.Key(), err))
	}
}

// Write stores a latency value and loss indicator for a target
func (a *RRDArchive) Write(t target.Target, timestamp time.Time, latencyMs float64, isLoss bool) error {
	filename := a.filename(t)

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		if err := a.createRRD(filename); err != nil {
			return fmt.Errorf("failed to create RRD file: %w", err)
		}
	}

	a.mu.Lock()
	u, exists := a.updaters[filename]
	if !exists {
		u = rrd.NewUpdater(filename)
		a.updaters[filename] = u
	}
	a.mu.Unlock()

	var latencyVal, lossVal interface{}
	if isLoss {
		latencyVal = math.NaN()
		lossVal = 1.0
	} else {
		latencyVal = latencyMs
		lossVal = 0.0
	}

	return u.Update(timestamp, latencyVal, lossVal)
}

// Fetch reads consolidated points for a target within a time range. A
// target that was never archived yields no points.
func (a *RRDArchive) Fetch(t target.Target, from, to time.Time) ([]Point, error) {
	filename := a.filename(t)

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []Point{}, nil
	}

	step := a.calculateStep(to.Sub(from))

	fetchRes, err := rrd.Fetch(filename, a.aggregation, from, to, step)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	defer fetchRes.FreeValues()

	if len(fetchRes.DsNames) < 2 {
		return nil, fmt.Errorf("unexpected data source count: %d (expected 2)", len(fetchRes.DsNames))
	}

	points := make([]Point, 0, fetchRes.RowCnt)
	for row := 0; row < fetchRes.RowCnt; row++ {
		points = append(points, Point{
			Timestamp: fetchRes.Start.Add(time.Duration(row) * fetchRes.Step),
			LatencyMs: fetchRes.ValueAt(0, row),
			Loss:      fetchRes.ValueAt(1, row),
		})
	}

	return points, nil
}

// calculateStep picks the RRA resolution that covers a query of the given
// length: base step up to a day, one minute up to a week, one hour beyond
func (a *RRDArchive) calculateStep(duration time.Duration) time.Duration {
	switch {
	case duration <= 24*time.Hour:
		return a.step
	case duration <= 7*24*time.Hour:
		return time.Minute
	default:
		return time.Hour
	}
}

// Close drops all cached updaters
func (a *RRDArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.updaters = make(map[string]*rrd.Updater)
	return nil
}

// createRRD creates a new RRD file with latency and loss data sources
func (a *RRDArchive) createRRD(filename string) error {
	stepSecs := uint(a.step.Seconds())
	heartbeatSecs := int(a.heartbeat.Seconds())

	c := rrd.NewCreator(filename, time.Now().Add(-a.step), stepSecs)

	for _, rra := range a.rras {
		c.RRA(a.aggregation, a.xff, rra.steps, rra.rows)
	}

	// DS 0: latency in ms, DS 1: loss indicator
	c.DS("latency", "GAUGE", heartbeatSecs, 0, "U")
	c.DS("loss", "GAUGE", heartbeatSecs, 0, 1)

	return c.Create(false)
}

var (
	// unsafeFilenameChars matches characters that are unsafe for filenames on various filesystems
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	underscoreRuns      = regexp.MustCompile(`_+`)
)

// filename returns the RRD file path for a target, <prefix>_<id>.rrd
// sanitised for the filesystem
func (a *RRDArchive) filename(t target.Target) string {
	safe := strings.ReplaceAll(t.Prefix+"_"+t.ID, " ", "_")
	safe = unsafeFilenameChars.ReplaceAllString(safe, "_")
	safe = strings.ToLower(safe)
	safe = underscoreRuns.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if len(safe) > 200 {
		safe = safe[:200]
	}
	if safe == "" {
		safe = "unnamed"
	}
	return filepath.Join(a.dataDir, safe+".rrd")
}

// parseRRAs parses a retention string like "5s:1d,1m:7d,1h:90d" into RRA configurations
func parseRRAs(retentionStr string, baseStep time.Duration) ([]rraConfig, error) {
	parts := strings.Split(retentionStr, ",")
	rras := make([]rraConfig, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		subparts := strings.Split(part, ":")
		if len(subparts) != 2 {
			return nil, fmt.Errorf("invalid retention format: %s", part)
		}

		resolution, err := parseDuration(subparts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid resolution in %s: %w", part, err)
		}

		duration, err := parseDuration(subparts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid duration in %s: %w", part, err)
		}

		steps := int(resolution / baseStep)
		if steps < 1 {
			steps = 1
		}

		rows := int(duration / resolution)
		if rows < 1 {
			rows = 1
		}

		rras = append(rras, rraConfig{steps: steps, rows: rows})
	}

	if len(rras) == 0 {
		return nil, fmt.Errorf("no valid retentions found")
	}

	return rras, nil
}

// parseDuration parses duration strings like "5s", "1m", "1h", "1d", "7d", "90d"
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}

	// time.ParseDuration has no day unit
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &days); err != nil {
			return 0, fmt.Errorf("invalid day duration: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}
