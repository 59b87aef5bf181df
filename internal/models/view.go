package models

// TaskProgressView is the aggregate the caller consumes. It is an immutable
// snapshot: the record slice is owned by the view, newest first.
type TaskProgressView struct {
	TaskID        string           `json:"task_id"`
	Records       []ProgressRecord `json:"records"`
	ExpectedTotal int              `json:"expected_total"`
	Percentage    int              `json:"percentage"` // 0-100, non-decreasing per session
	IsComplete    bool             `json:"is_complete"`
}

// Head returns the most recent record, or false when the view is empty.
func (v TaskProgressView) Head() (ProgressRecord, bool) {
	if len(v.Records) == 0 {
		return ProgressRecord{}, false
	}
	return v.Records[0], true
}

// ResultAvailability reports whether the final result artifact of a task
// exists. Deliberately independent of TaskProgressView.IsComplete: a task may
// report 100% before its artifact is persisted.
type ResultAvailability struct {
	TaskID    string `json:"task_id"`
	Available bool   `json:"available"`
}

// UserProfile is the cached account entity shown on the profile screen.
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ResearchResult is the final artifact produced by the research executor.
type ResearchResult struct {
	TaskID    string   `json:"task_id"`
	Report    string   `json:"report"`
	Sources   []Source `json:"sources"`
	CreatedAt string   `json:"created_at"`
}
