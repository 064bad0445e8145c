// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/quickart/internal/version.version=v1.2.0"
package version

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields — поля сборки для стартового лога.
func Fields() log.Fields {
	return log.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
}

// ClientID — идентификатор клиента для Kafka client.id.
// Sarama допускает только [A-Za-z0-9._-], остальные символы заменяются на '_'.
func ClientID(service string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, service+"-"+version)
}
