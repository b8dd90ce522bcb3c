package pool

import "go.uber.org/zap"

func zapFields(ip string, port uint16) []zap.Field {
	return []zap.Field{zap.String("ip", ip), zap.Uint16("port", port)}
}

func zapErrField(err error) zap.Field {
	return zap.Error(err)
}

func zapIntField(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// logger is the package-wide sink for informational and failure events.
// It defaults to a no-op logger so importing this package is silent unless
// a caller opts in, mirroring the kernel source's CONFIG_CACHEOBJS_CONNPOOL
// gate — nothing is logged until someone asks for it.
var logger = zap.NewNop()

// SetLogger installs the logger used for debug/info/error events emitted
// by Table and Node operations. Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
