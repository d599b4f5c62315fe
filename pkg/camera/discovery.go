package camera

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

const devicePattern = "/dev/video*"

var deviceNumber = regexp.MustCompile(`video(\d+)$`)

// ScanDevices lists readable V4L2 device nodes ordered by index
func ScanDevices(ctx context.Context) ([]string, error) {
	return scanDevices(ctx, devicePattern)
}

func scanDevices(ctx context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan devices")
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return devices, err
		}
		if deviceNumber.MatchString(match) && isReadable(match) {
			devices = append(devices, match)
		}
	}
	return devices, nil
}

func isReadable(device string) bool {
	f, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func extractDeviceNumber(device string) int {
	m := deviceNumber.FindStringSubmatch(device)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
