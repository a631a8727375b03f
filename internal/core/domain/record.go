package domain

// Record is a normalized row handed to the storage sink.
type Record struct {
	Table string
	Data  map[string]any
}

// Method is a control command understood by a running task.
type Method string

const (
	MethodStart  Method = "start"
	MethodStop   Method = "stop"
	MethodReset  Method = "reset"
	MethodRemove Method = "remove"
)

// Command is delivered to a task's control inbox.
type Command struct {
	Method Method `json:"method"`
	Reason string `json:"reason,omitempty"`
}

// ParseMethod validates a method name coming from an operator.
func ParseMethod(s string) (Method, bool) {
	switch m := Method(s); m {
	case MethodStart, MethodStop, MethodReset, MethodRemove:
		return m, true
	}
	return "", false
}
