package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// MountGroup represents the collection paths sharing one mount point
type MountGroup struct {
	MountPoint string   `json:"mount_point"` // e.g. "/"
	Device     string   `json:"device"`      // e.g. "/dev/sda1"
	Fstype     string   `json:"fstype"`      // e.g. "ext4"
	Paths      []string `json:"paths"`       // collection roots on this mount
}

// existingAncestor returns path itself or its nearest existing parent with
// symlinks resolved. Collection roots are created lazily, so a configured
// directory may not exist yet.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(p); err == nil {
			if resolved, err := filepath.EvalSymlinks(p); err == nil {
				return resolved, nil
			}
			return p, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor of %s", path)
		}
		p = parent
	}
}

// matchPartition picks the partition with the longest mount point containing path.
func matchPartition(path string, partitions []disk.PartitionStat) (disk.PartitionStat, error) {
	var best disk.PartitionStat
	bestLen := 0
	for _, p := range partitions {
		mp := p.Mountpoint
		if !strings.HasPrefix(path, mp) {
			continue
		}
		if path == mp || len(mp) == 1 || strings.HasPrefix(path, mp+"/") {
			if len(mp) > bestLen {
				best, bestLen = p, len(mp)
			}
		}
	}
	if bestLen == 0 {
		return disk.PartitionStat{}, fmt.Errorf("no mount point found for path: %s", path)
	}
	return best, nil
}

// groupPaths groups the paths by mount point. resolve maps a configured path
// to the filesystem path used for matching; paths it rejects are returned in
// skipped.
func groupPaths(paths []string, partitions []disk.PartitionStat, resolve func(string) (string, error)) (groups []MountGroup, skipped []string) {
	byMount := make(map[string]*MountGroup)
	for _, path := range paths {
		resolved, err := resolve(path)
		if err != nil {
			skipped = append(skipped, path)
			continue
		}
		p, err := matchPartition(resolved, partitions)
		if err != nil {
			skipped = append(skipped, path)
			continue
		}
		if g, ok := byMount[p.Mountpoint]; ok {
			g.Paths = append(g.Paths, path)
			continue
		}
		byMount[p.Mountpoint] = &MountGroup{
			MountPoint: p.Mountpoint,
			Device:     p.Device,
			Fstype:     p.Fstype,
			Paths:      []string{path},
		}
	}

	groups = make([]MountGroup, 0, len(byMount))
	for _, g := range byMount {
		slices.Sort(g.Paths)
		groups = append(groups, *g)
	}
	slices.SortFunc(groups, func(a, b MountGroup) int { return strings.Compare(a.MountPoint, b.MountPoint) })
	return groups, skipped
}
