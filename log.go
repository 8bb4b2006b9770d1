package lbltools

import "go.uber.org/zap"

// logger is used by the package level functions. Resolvers carry their own logger.
var logger = zap.NewNop()

// SetLogger sets the logger for the package level functions. It must be called before any of them
// are used. A nil logger disables logging.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
