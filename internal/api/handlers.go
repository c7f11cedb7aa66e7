package api

import (
	"errors"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wellsgz/pingmon/internal/aggregate"
	"github.com/wellsgz/pingmon/internal/archive"
	"github.com/wellsgz/pingmon/internal/config"
	"github.com/wellsgz/pingmon/internal/probe"
	"github.com/wellsgz/pingmon/internal/stats"
	"github.com/wellsgz/pingmon/internal/storage"
	"github.com/wellsgz/pingmon/internal/target"
)

// Version is reported by the status endpoint
var Version = "dev"

// Source is the running monitor the API reads from
type Source interface {
	Registry() *target.Registry
	Engine() *aggregate.Engine
	Store() storage.Store
	Archive() *archive.RRDArchive
	InstanceID() string
	StartedAt() time.Time
	Subscribe() <-chan probe.Result
	Unsubscribe(ch <-chan probe.Result)
}

// Handler holds dependencies for API handlers
type Handler struct {
	config *config.Config
	source Source
}

// NewHandler creates a new Handler
func NewHandler(cfg *config.Config, src Source) *Handler {
	return &Handler{config: cfg, source: src}
}

// StatusResponse represents the response for the status endpoint
type StatusResponse struct {
	Status          string     `json:"status"`
	Instance        string     `json:"instance"`
	Uptime          string     `json:"uptime"`
	UptimeSecs      float64    `json:"uptime_secs"`
	TargetCount     int        `json:"target_count"`
	TargetsUpdated  time.Time  `json:"targets_updated"`
	LastAggregation *time.Time `json:"last_aggregation"`
	Version         string     `json:"version"`
}

// GetStatus returns the current system status
func (h *Handler) GetStatus(c *gin.Context) {
	uptime := time.Since(h.source.StartedAt())
	snapshot := h.source.Registry().Snapshot()

	response := StatusResponse{
		Status:         "ok",
		Instance:       h.source.InstanceID(),
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSecs:     uptime.Seconds(),
		TargetCount:    len(snapshot.Targets),
		TargetsUpdated: snapshot.UpdatedAt,
		Version:        Version,
	}
	if last := h.source.Engine().LastRun(); !last.IsZero() {
		response.LastAggregation = &last
	}

	c.JSON(http.StatusOK, response)
}

// TargetResponse represents a monitored target in API responses
type TargetResponse struct {
	ID      string                      `json:"id"`
	Address string                      `json:"address"`
	Prefix  string                      `json:"prefix"`
	Stats   map[string]stats.StatVector `json:"stats,omitempty"`
}

// GetTargets returns the current registry snapshot with the statistics of
// the last aggregation pass
func (h *Handler) GetTargets(c *gin.Context) {
	targets := h.source.Registry().Targets()
	latest := h.source.Engine().Latest()

	response := make([]TargetResponse, len(targets))
	for i, t := range targets {
		response[i] = TargetResponse{ID: t.ID, Address: t.Address, Prefix: t.Prefix}
		if view, ok := latest[t.Key()]; ok {
			response[i].Stats = view.Stats
		}
	}
	sort.Slice(response, func(i, j int) bool {
		if response[i].Prefix != response[j].Prefix {
			return response[i].Prefix < response[j].Prefix
		}
		return response[i].ID < response[j].ID
	})

	c.JSON(http.StatusOK, response)
}

// GetTarget returns the cached aggregate record for a target exactly as
// stored
func (h *Handler) GetTarget(c *gin.Context) {
	prefix, id := c.Param("prefix"), c.Param("id")

	data, err := h.source.Store().GetCache(c.Request.Context(), storage.CacheKey(prefix, id))
	if err != nil {
		storeError(c, err, "No aggregate for "+prefix+":"+id)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// HistoryQuery represents query parameters for archived data
type HistoryQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

// DataPoint represents a single archived point
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"` // nil for NaN values
	Loss      *float64  `json:"loss"`  // nil for no data, otherwise the failed fraction 0.0-1.0
}

// HistoryResponse contains archived data points
type HistoryResponse struct {
	Target     string      `json:"target"`
	From       time.Time   `json:"from"`
	To         time.Time   `json:"to"`
	DataPoints []DataPoint `json:"data_points"`
}

// GetTargetArchive returns long-term archived data for a target
func (h *Handler) GetTargetArchive(c *gin.Context) {
	t := target.Target{Prefix: c.Param("prefix"), ID: c.Param("id")}

	rrd := h.source.Archive()
	if rrd == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "Archive is disabled",
		})
		return
	}

	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Invalid query parameters: " + err.Error(),
		})
		return
	}

	to := time.Now()
	if query.To != "" {
		parsed, err := time.Parse(time.RFC3339, query.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Bad Request",
				"message": "to must be an RFC3339 time",
			})
			return
		}
		to = parsed
	}
	from := to.Add(-1 * time.Hour)
	if query.From != "" {
		parsed, err := time.Parse(time.RFC3339, query.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Bad Request",
				"message": "from must be an RFC3339 time",
			})
			return
		}
		from = parsed
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "from must be before to",
		})
		return
	}

	points, err := rrd.Fetch(t, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to fetch archive: " + err.Error(),
		})
		return
	}

	dataPoints := make([]DataPoint, len(points))
	for i, p := range points {
		dp := DataPoint{Timestamp: p.Timestamp}
		if !math.IsNaN(p.LatencyMs) {
			val := p.LatencyMs
			dp.Value = &val
		}
		if !math.IsNaN(p.Loss) {
			loss := p.Loss
			dp.Loss = &loss
		}
		dataPoints[i] = dp
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Target:     t.Key(),
		From:       from,
		To:         to,
		DataPoints: dataPoints,
	})
}

// GetConfig returns the effective configuration without connection secrets
func (h *Handler) GetConfig(c *gin.Context) {
	response := gin.H{
		"probe": gin.H{
			"interval":      h.config.Probe.Interval.String(),
			"timeout":       h.config.Probe.Timeout.String(),
			"backend":       h.config.Probe.Backend,
			"payload_size":  h.config.Probe.PayloadSize,
			"max_in_flight": h.config.Probe.MaxInFlight,
		},
		"storage": gin.H{
			"max_len": h.config.Storage.MaxLen,
		},
		"registry": gin.H{
			"interval": h.config.Registry.Interval.String(),
			"pattern":  h.config.Registry.Pattern,
			"static":   len(h.config.Registry.Static),
			"files":    len(h.config.Registry.Files),
		},
		"aggregate": gin.H{
			"interval":        h.config.Aggregate.Interval.String(),
			"lookback":        h.config.Aggregate.Lookback.String(),
			"history_buckets": h.config.Aggregate.HistoryBuckets,
			"bucket_width":    h.config.Aggregate.BucketWidth.String(),
		},
		"archive": gin.H{
			"enabled":   h.config.Archive.Enabled,
			"retention": h.config.Archive.Retention,
		},
	}

	c.JSON(http.StatusOK, response)
}

func storeError(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": notFound,
		})
	case storage.IsUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Service Unavailable",
			"message": "Store unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": err.Error(),
		})
	}
}
