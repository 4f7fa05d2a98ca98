package transfer

// Kind is the severity of a toast.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Result is how an item left the engine.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	// ResultAbandoned items were still in flight when the session was torn down.
	ResultAbandoned Result = "abandoned"
)

// Notifier receives user-facing events. Calls are made without engine
// locks held and may come from any goroutine.
type Notifier interface {
	ItemAdded(info Info)
	Progress(fileID string, percent float64, label string)
	Toast(message string, kind Kind)
	ItemDone(info Info, result Result)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) ItemAdded(Info)                  {}
func (NopNotifier) Progress(string, float64, string) {}
func (NopNotifier) Toast(string, Kind)              {}
func (NopNotifier) ItemDone(Info, Result)           {}

// Notifiers fans events out to several sinks.
type Notifiers []Notifier

func (ns Notifiers) ItemAdded(info Info) {
	for _, n := range ns {
		n.ItemAdded(info)
	}
}

func (ns Notifiers) Progress(fileID string, percent float64, label string) {
	for _, n := range ns {
		n.Progress(fileID, percent, label)
	}
}

func (ns Notifiers) Toast(message string, kind Kind) {
	for _, n := range ns {
		n.Toast(message, kind)
	}
}

func (ns Notifiers) ItemDone(info Info, result Result) {
	for _, n := range ns {
		n.ItemDone(info, result)
	}
}
