package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphmap/tilesync/internal/logger"
)

func mockPartitions() []disk.PartitionStat {
	return []disk.PartitionStat{
		{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
		{Device: "/dev/sda2", Mountpoint: "/home", Fstype: "ext4"},
		{Device: "/dev/sdb1", Mountpoint: "/mnt/data", Fstype: "xfs"},
	}
}

func identity(p string) (string, error) { return p, nil }

func TestMatchPartition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/home", "/home"},
		{"/home/user", "/home"},
		{"/homework", "/"},
		{"/mnt/data/tiles/17", "/mnt/data"},
		{"/mnt", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			p, err := matchPartition(tt.path, mockPartitions())
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Mountpoint)
		})
	}

	_, err := matchPartition("/some/path", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mount point found")
}

func TestGroupPaths(t *testing.T) {
	t.Parallel()

	paths := []string{"/mnt/data/tiles", "/srv/labels", "/mnt/data/preds", "/home/me/oai"}
	groups, skipped := groupPaths(paths, mockPartitions(), identity)
	assert.Empty(t, skipped)

	require.Len(t, groups, 3)
	assert.Equal(t, "/", groups[0].MountPoint)
	assert.Equal(t, []string{"/srv/labels"}, groups[0].Paths)
	assert.Equal(t, "/home", groups[1].MountPoint)
	assert.Equal(t, "/mnt/data", groups[2].MountPoint)
	assert.Equal(t, "/dev/sdb1", groups[2].Device)
	assert.Equal(t, "xfs", groups[2].Fstype)
	assert.Equal(t, []string{"/mnt/data/preds", "/mnt/data/tiles"}, groups[2].Paths)

	_, skipped = groupPaths([]string{"relative"}, mockPartitions(), identity)
	assert.Equal(t, []string{"relative"}, skipped)
}

func TestExistingAncestor(t *testing.T) {
	t.Parallel()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	got, err := existingAncestor(filepath.Join(dir, "not", "created", "yet"))
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

type recorder struct {
	free map[string]uint64
}

func (r *recorder) SetDiskUsage(mount string, free uint64, _ float64) {
	r.free[mount] = free
}

func newFakeMonitor(t *testing.T, paths []string, used map[string]float64) (*DiskMonitor, *recorder) {
	t.Helper()
	rec := &recorder{free: map[string]uint64{}}
	m := NewDiskMonitor(paths, 80, WithLogger(logger.NewDiscardLogger()), WithObserver(rec))
	m.partitions = func(context.Context) ([]disk.PartitionStat, error) {
		return mockPartitions(), nil
	}
	m.usage = func(_ context.Context, mount string) (*disk.UsageStat, error) {
		pct, ok := used[mount]
		if !ok {
			return nil, fmt.Errorf("no stats for %s", mount)
		}
		return &disk.UsageStat{Path: mount, Total: 1000, Free: uint64(1000 - pct*10), UsedPercent: pct}, nil
	}
	return m, rec
}

func TestDiskMonitorCheck(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "tiles"), filepath.Join(dir, "labels")}
	m, rec := newFakeMonitor(t, paths, map[string]float64{"/": 85, "/home": 85, "/mnt/data": 85})

	usages, err := m.Check(t.Context())
	require.NoError(t, err)
	require.Len(t, usages, 1)

	u := usages[0]
	assert.ElementsMatch(t, paths, u.Paths)
	assert.True(t, u.Low, "above the warning level")
	assert.True(t, AnyLow(usages))
	assert.Equal(t, uint64(150), rec.free[u.MountPoint])
}

func TestDiskMonitorSkipsUnavailableMounts(t *testing.T) {
	t.Parallel()

	m, _ := newFakeMonitor(t, []string{t.TempDir()}, map[string]float64{})
	usages, err := m.Check(t.Context())
	require.NoError(t, err)
	assert.Empty(t, usages)
	assert.False(t, AnyLow(usages))
}

func TestDiskMonitorPartitionError(t *testing.T) {
	t.Parallel()

	m := NewDiskMonitor([]string{"/"}, 0, WithLogger(logger.NewDiscardLogger()))
	assert.InDelta(t, DefaultWarningPercent, m.warning, 0)
	m.partitions = func(context.Context) ([]disk.PartitionStat, error) {
		return nil, fmt.Errorf("proc not mounted")
	}
	_, err := m.Check(t.Context())
	require.Error(t, err)
}

func TestUsageSummary(t *testing.T) {
	t.Parallel()

	u := Usage{
		MountGroup:  MountGroup{MountPoint: "/data"},
		Total:       500_000_000_000,
		Free:        34_000_000_000,
		UsedPercent: 93.2,
	}
	assert.Equal(t, "/data 93% used, 34 GB free of 500 GB", u.Summary())
}
