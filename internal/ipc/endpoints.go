package ipc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	EndpointPrefix = "discord-ipc-"
	EndpointCount  = 10
)

// tempDirEnv is checked in order; the first non-empty value wins.
var tempDirEnv = []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"}

// TempDir resolves the directory the companion app places its sockets in.
func TempDir() string {
	for _, key := range tempDirEnv {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return os.TempDir()
}

// Endpoints returns dir/discord-ipc-0 .. dir/discord-ipc-9 in dial order.
func Endpoints(dir string) []string {
	if strings.TrimSpace(dir) == "" {
		dir = TempDir()
	}
	out := make([]string, 0, EndpointCount)
	for i := 0; i < EndpointCount; i++ {
		out = append(out, filepath.Join(dir, EndpointPrefix+strconv.Itoa(i)))
	}
	return out
}

func DefaultEndpoints() []string {
	return Endpoints(TempDir())
}
