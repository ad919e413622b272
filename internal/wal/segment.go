package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const segmentPrefix = "segment-"
const segmentSuffix = ".log"

// segmentName formats the on-disk name for WAL segment n, per spec.md §6:
// <data_path>/wal/segment-<n>.log.
func segmentName(n uint64) string {
	return fmt.Sprintf("%s%d%s", segmentPrefix, n, segmentSuffix)
}

// segmentNumber parses the sequence number out of a segment file name.
// Returns ok=false for anything that isn't a well-formed segment name, so
// callers can silently skip unrelated files in the WAL directory.
func segmentNumber(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	numStr := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// listSegments returns segment file paths in ascending sequence order.
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type seg struct {
		n    uint64
		path string
	}
	var segs []seg
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := segmentNumber(e.Name()); ok {
			segs = append(segs, seg{n: n, path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].n < segs[j].n })

	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}

func lastSegmentNumber(dir string) (uint64, error) {
	paths, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, nil
	}
	n, _ := segmentNumber(filepath.Base(paths[len(paths)-1]))
	return n, nil
}
