package software

import (
	"fmt"

	"github.com/spaghettifunk/framepace/engine/core"
	"github.com/spaghettifunk/framepace/engine/renderer/metadata"
)

// report forwards a validation message when validation is enabled.
func (d *Device) report(severity metadata.Severity, object string, format string, args ...interface{}) {
	if !d.options.EnableValidation {
		return
	}
	msg := metadata.ValidationMessage{
		Severity: severity,
		Object:   object,
		Message:  fmt.Sprintf(format, args...),
	}
	if d.options.OnValidation != nil {
		d.options.OnValidation(msg)
		return
	}
	switch severity {
	case metadata.SeverityError:
		core.LogError("validation: [%s] %s", msg.Object, msg.Message)
	case metadata.SeverityWarning:
		core.LogWarn("validation: [%s] %s", msg.Object, msg.Message)
	default:
		core.LogDebug("validation: [%s] %s", msg.Object, msg.Message)
	}
}

// destroyInUse reports and refuses the destruction of an object that pending
// work still references.
func (d *Device) destroyInUse(obj interface{}, label string) error {
	if !d.inUse(obj) {
		return nil
	}
	d.report(metadata.SeverityError, label, "destroyed while referenced by pending GPU work")
	return fmt.Errorf("%s is still in use by the GPU: %w", label, core.ErrGraphicsDevice)
}
