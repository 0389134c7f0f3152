package server

import (
	"github.com/sanity-io/litter"
	"github.com/sirupsen/logrus"
)

// dump logs a full structural dump of v at debug level.
func dump(logger logrus.FieldLogger, msg string, v any) {
	if e, ok := logger.(*logrus.Entry); ok && !e.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logger.Debugf("%s: %s", msg, litter.Sdump(v))
}
