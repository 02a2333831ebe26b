// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/drafts/internal/version.version=v1.2.0"
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// Fields возвращает сведения о сборке в виде полей logrus.
func (b Build) Fields() log.Fields {
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

// Dev сообщает, что бинарник собран без -ldflags.
func (b Build) Dev() bool { return b.Version == "dev" }

func (b Build) String() string {
	return fmt.Sprintf("draft-service %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}
