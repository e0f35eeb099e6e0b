package util

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// CloseResource closes a destination client (a document store sink or message bus sender) that is being abandoned,
// e.g. because startup failed after it was connected. The error is only logged, as the caller is already returning
// a more relevant one.
func CloseResource(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.WithError(err).Warnf("Failed to close %s cleanly", name)
	}
}
