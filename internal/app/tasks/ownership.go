package tasks

// IsVisibleTo reports whether callerID may read or change task. Tasks with no
// owner are shared by every authenticated caller until one of them claims it.
func IsVisibleTo(task Task, callerID string) bool {
	if callerID == "" {
		return false
	}
	return task.OwnerID == callerID || task.OwnerID == ""
}

// Filter is the ownership scope applied to every store query. Backends
// translate it into their own query language.
type Filter struct {
	CallerID string
}

func OwnedBy(callerID string) Filter {
	return Filter{CallerID: callerID}
}

// Empty filters match nothing.
func (f Filter) Empty() bool {
	return f.CallerID == ""
}

func (f Filter) Matches(task Task) bool {
	return IsVisibleTo(task, f.CallerID)
}

// Claim assigns an unowned task to callerID. Owned tasks come back unchanged
// and the second result is false.
func Claim(task Task, callerID string) (Task, bool) {
	if task.OwnerID != "" || callerID == "" {
		return task, false
	}
	task.OwnerID = callerID
	return task, true
}
