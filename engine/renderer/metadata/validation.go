package metadata

type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ValidationMessage is one report from a validation layer. Errors are hazards:
// the GPU could have read or written memory the CPU already changed or freed.
type ValidationMessage struct {
	Severity Severity
	Object   string
	Message  string
}

type ValidationHandler func(msg ValidationMessage)
