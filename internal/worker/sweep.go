package worker

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mkessler/dossier/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// StartJanitor schedules a recurring sweep of leftover clone
// directories under workRoot. A worker that dies between clone and
// cleanup leaves its temporary directory behind; the sweep bounds the
// disk usage of such leftovers. Returns the running cron scheduler;
// callers stop it on shutdown.
func StartJanitor(schedule, workRoot string, maxAge time.Duration, out io.Writer) (*cron.Cron, error) {
	if out == nil {
		out = io.Discard
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := Sweep(workRoot, maxAge)
		if err != nil {
			log.Printf("worker: sweep: %v", err)
			return
		}
		if n > 0 {
			fmt.Fprintf(out, "Swept %d leftover work directories\n", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("worker: janitor schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

// Sweep removes run work directories under workRoot older than maxAge
// and returns how many were removed. Only directories carrying the
// pipeline's workdir prefix are touched.
func Sweep(workRoot string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(workRoot)
	if err != nil {
		return 0, fmt.Errorf("worker: read work root %s: %w", workRoot, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), pipeline.WorkdirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workRoot, e.Name())); err != nil {
			log.Printf("worker: sweep %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}
