package gateway

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// unbufferedEnv makes the inference process flush stdout on every write and
// speak UTF-8 regardless of the host locale.
var unbufferedEnv = []string{
	"PYTHONUNBUFFERED=1",
	"PYTHONIOENCODING=utf-8",
	"PYTHONUTF8=1",
}

// BuildEnv returns the environment for inference processes: base, then the
// project's .env file (if any), then the unbuffered-output flags. Later
// entries win. The daemon's own environment is not modified.
func BuildEnv(base []string, projectRoot string) []string {
	env := make(map[string]string, len(base)+len(unbufferedEnv))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	if projectRoot != "" {
		path := filepath.Join(projectRoot, ".env")
		if _, err := os.Stat(path); err == nil {
			vars, err := godotenv.Read(path)
			if err != nil {
				slog.Warn("failed to read project .env", "path", path, "error", err)
			} else {
				for k, v := range vars {
					env[k] = v
				}
			}
		}
	}

	for _, kv := range unbufferedEnv {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
