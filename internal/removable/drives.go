// Package removable finds mounted removable drives and copies finished
// downloads onto them.
package removable

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrDriveQuery is returned when the platform's drive listing fails.
var ErrDriveQuery = errors.New("query drives")

// Drive is a mounted removable volume. Sizes are in bytes; zero means unknown.
type Drive struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Capacity  uint64 `json:"capacity"`
	Available uint64 `json:"available"`
}

const (
	procMounts    = "/proc/mounts"
	volumesRoot   = "/Volumes"
	bootVolume    = "Macintosh HD"
	removableDesc = "Removable"
)

var linuxMountPrefixes = []string{"/media/", "/run/media/", "/mnt/"}

// ListDrives returns the removable drives visible on this machine.
func ListDrives(ctx context.Context) ([]Drive, error) {
	var (
		drives []Drive
		err    error
	)
	switch runtime.GOOS {
	case "linux":
		drives, err = listLinux(procMounts)
	case "darwin":
		drives, err = listVolumes(volumesRoot)
	case "windows":
		drives, err = listWindows(ctx)
	default:
		log.Debug().Str("os", runtime.GOOS).Msg("drive listing not supported")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDriveQuery, err)
	}
	for i := range drives {
		if drives[i].Capacity == 0 {
			drives[i].Capacity, drives[i].Available = diskUsage(drives[i].Path)
		}
	}
	return drives, nil
}

func listLinux(path string) ([]Drive, error) {
	f, err := os.Open(path) //nolint:gosec // fixed system path
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer f.Close()
	return parseProcMounts(f)
}

// parseProcMounts picks mount points that desktop automounters use for
// removable media.
func parseProcMounts(r io.Reader) ([]Drive, error) {
	var drives []Drive
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		mountPoint := unescapeMount(fields[1])
		if !hasAnyPrefix(mountPoint, linuxMountPrefixes) {
			continue
		}
		if _, dup := seen[mountPoint]; dup {
			continue
		}
		seen[mountPoint] = struct{}{}
		drives = append(drives, Drive{Name: filepath.Base(mountPoint), Path: mountPoint})
	}
	if err := scanner.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return drives, nil
}

// unescapeMount decodes the octal escapes (\040 for space and friends) used
// in /proc/mounts.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func listVolumes(root string) ([]Drive, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err //nolint:wrapcheck
	}
	drives := make([]Drive, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == bootVolume || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(root, name)
		// the boot volume is also exposed as a symlink to /
		if target, err := os.Readlink(path); err == nil && target == "/" {
			continue
		}
		drives = append(drives, Drive{Name: name, Path: path})
	}
	return drives, nil
}

func listWindows(ctx context.Context) ([]Drive, error) {
	cmd := exec.CommandContext(ctx, "wmic", "logicaldisk", "get", "deviceid,description,size,freespace", "/format:csv")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("wmic: %w", err)
	}
	return parseWmicCSV(strings.NewReader(strings.ReplaceAll(string(out), "\r", "")))
}

// parseWmicCSV reads `wmic logicaldisk ... /format:csv` output and keeps the
// rows describing removable disks. Columns are located by header name.
func parseWmicCSV(r io.Reader) ([]Drive, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		header map[string]int
		drives []Drive
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		if header == nil {
			header = make(map[string]int, len(record))
			for i, col := range record {
				header[strings.ToLower(strings.TrimSpace(col))] = i
			}
			continue
		}
		field := func(name string) string {
			i, ok := header[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if !strings.Contains(field("description"), removableDesc) {
			continue
		}
		deviceID := field("deviceid")
		if deviceID == "" {
			continue
		}
		size, _ := strconv.ParseUint(field("size"), 10, 64)
		free, _ := strconv.ParseUint(field("freespace"), 10, 64)
		drives = append(drives, Drive{
			Name:      deviceID,
			Path:      deviceID + `\`,
			Capacity:  size,
			Available: free,
		})
	}
	return drives, nil
}
