package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Version возвращает версию сборки, заданную через -ldflags.
func Version() string { return version }

// Commit возвращает git-коммит сборки.
func Commit() string { return commit }

// Date возвращает дату сборки.
func Date() string { return date }

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func String() string {
	return fmt.Sprintf("tms version=%s commit=%s date=%s", version, commit, date)
}
