package offline

import (
	"strings"
	"time"
)

// Namespace builds the cache generation name "<app>-<version>". An empty version
// falls back to the UTC date so every daily deploy gets a fresh generation.
func Namespace(appName, version string, now time.Time) string {
	app := strings.TrimSpace(appName)
	if app == "" {
		app = "quiz-app"
	}
	v := strings.TrimSpace(version)
	if v == "" {
		v = now.UTC().Format("20060102")
	}
	return app + "-" + v
}
