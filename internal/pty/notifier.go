package pty

// Notifier receives session notifications in the order the pumps produced
// them. Implementations must not call back into the Manager synchronously
// from NotifyExit with the expectation that the session is still listed.
type Notifier interface {
	NotifyData(DataEvent)
	NotifyExit(ExitEvent)
}

// Notifiers fans every event out to each notifier in turn.
type Notifiers []Notifier

func (ns Notifiers) NotifyData(ev DataEvent) {
	for _, n := range ns {
		if n != nil {
			n.NotifyData(ev)
		}
	}
}

func (ns Notifiers) NotifyExit(ev ExitEvent) {
	for _, n := range ns {
		if n != nil {
			n.NotifyExit(ev)
		}
	}
}

// NotifierFuncs adapts plain functions to a Notifier. Nil fields are skipped.
type NotifierFuncs struct {
	Data func(DataEvent)
	Exit func(ExitEvent)
}

func (f NotifierFuncs) NotifyData(ev DataEvent) {
	if f.Data != nil {
		f.Data(ev)
	}
}

func (f NotifierFuncs) NotifyExit(ev ExitEvent) {
	if f.Exit != nil {
		f.Exit(ev)
	}
}

func deliver(n Notifier, ev Event) {
	switch ev.Type {
	case EventData:
		n.NotifyData(ev.Data)
	case EventExit:
		n.NotifyExit(ev.Exit)
	}
}
