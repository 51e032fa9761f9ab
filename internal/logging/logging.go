// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Setup sets the level ("trace" to "panic") and format ("text" or "json") of
// the standard logger.
func Setup(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}

	switch format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format: %s", format)
	}
	log.SetLevel(lvl)
	return nil
}

// SetOutput redirects the standard logger.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
