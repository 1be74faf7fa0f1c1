//go:build !linux

package media

// NewProvider returns nil on non-Linux platforms. Camera/mic capture via
// pion/mediadevices needs platform drivers (V4L2 and malgo on Linux); without
// them capture is structurally unsupported and the acquirer reports it as
// such.
func NewProvider() Provider {
	return nil
}
