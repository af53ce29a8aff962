// Package monitor reports free space on the filesystems holding the tile
// collections.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
)

// DefaultWarningPercent is the used-space level above which a mount is
// reported as low on space.
const DefaultWarningPercent = 90.0

// Usage is the space report for one mount.
type Usage struct {
	MountGroup
	Total       uint64  `json:"total_bytes"`
	Free        uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
	Low         bool    `json:"low"`
}

// Summary renders the usage for terminal output, e.g.
// "/data 93% used, 34 GB free of 500 GB".
func (u Usage) Summary() string {
	return fmt.Sprintf("%s %.0f%% used, %s free of %s",
		u.MountPoint, u.UsedPercent, humanize.Bytes(u.Free), humanize.Bytes(u.Total))
}

// Observer receives the latest usage of each mount.
type Observer interface {
	SetDiskUsage(mount string, free uint64, usedPercent float64)
}

// DiskMonitor checks the mounts under a fixed set of collection roots.
type DiskMonitor struct {
	paths   []string
	warning float64
	log     logger.Logger
	obs     Observer

	partitions func(ctx context.Context) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)

	mu  sync.Mutex
	low map[string]bool // mounts last reported low, to log transitions once
}

// Option configures a DiskMonitor.
type Option func(*DiskMonitor)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *DiskMonitor) { m.log = l }
}

// WithObserver publishes every check to o.
func WithObserver(o Observer) Option {
	return func(m *DiskMonitor) { m.obs = o }
}

// NewDiskMonitor watches the given collection roots. A warning of zero or
// less selects DefaultWarningPercent.
func NewDiskMonitor(paths []string, warningPercent float64, opts ...Option) *DiskMonitor {
	if warningPercent <= 0 {
		warningPercent = DefaultWarningPercent
	}
	m := &DiskMonitor{
		paths:   paths,
		warning: warningPercent,
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, true)
		},
		usage: disk.UsageWithContext,
		low:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Global().Module("monitor")
	}
	return m
}

// Check reports usage per mount, ordered by mount point. Paths that cannot
// be placed on a mount are logged and left out.
func (m *DiskMonitor) Check(ctx context.Context) ([]Usage, error) {
	partitions, err := m.partitions(ctx)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Component("monitor").
			Context("operation", "list-partitions").
			Build()
	}

	groups, skipped := groupPaths(m.paths, partitions, existingAncestor)
	for _, p := range skipped {
		m.log.Debug("path not on a known mount", logger.String("path", p))
	}

	out := make([]Usage, 0, len(groups))
	for _, g := range groups {
		st, err := m.usage(ctx, g.MountPoint)
		if err != nil {
			m.log.Warn("disk usage unavailable",
				logger.String("mount_point", g.MountPoint),
				logger.Error(err))
			continue
		}
		u := Usage{
			MountGroup:  g,
			Total:       st.Total,
			Free:        st.Free,
			UsedPercent: st.UsedPercent,
			Low:         st.UsedPercent >= m.warning,
		}
		if m.obs != nil {
			m.obs.SetDiskUsage(g.MountPoint, u.Free, u.UsedPercent)
		}
		m.noteLevel(u)
		out = append(out, u)
	}
	return out, nil
}

// AnyLow reports whether any mount in usages is above the warning level.
func AnyLow(usages []Usage) bool {
	for _, u := range usages {
		if u.Low {
			return true
		}
	}
	return false
}

func (m *DiskMonitor) noteLevel(u Usage) {
	m.mu.Lock()
	was := m.low[u.MountPoint]
	m.low[u.MountPoint] = u.Low
	m.mu.Unlock()

	switch {
	case u.Low && !was:
		m.log.Warn("low disk space for tile collections",
			logger.String("mount_point", u.MountPoint),
			logger.Any("paths", u.Paths),
			logger.Float64("used_percent", u.UsedPercent),
			logger.Float64("warning_percent", m.warning),
			logger.Int64("free_bytes", int64(u.Free)))
	case !u.Low && was:
		m.log.Info("disk space recovered",
			logger.String("mount_point", u.MountPoint),
			logger.Float64("used_percent", u.UsedPercent))
	}
}
