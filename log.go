package ic

import "go.uber.org/zap"

// newNopLogger is the default logger when a Controller is built without
// an explicit one — discards everything, same default zap itself ships
// (zap.NewNop()), so tests and library embedders never need a real sink
// unless they ask for one.
func newNopLogger() *zap.Logger {
	return zap.NewNop()
}
