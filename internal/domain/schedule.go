package domain

// Hierarchical result shape of the point-in-time composite query: activities
// with their active responsibles and tasks, each task with its active
// assignees, as of a single date.

// ScheduleEntry is one activity group in a point-in-time schedule.
type ScheduleEntry struct {
	Activity    Activity       `json:"activity"`
	TypeName    string         `json:"type_name"`
	Responsible []User         `json:"responsible"`
	Tasks       []ScheduleTask `json:"tasks"`
}

// ScheduleTask is one task group with its active assignees.
type ScheduleTask struct {
	Task      Task   `json:"task"`
	Assignees []User `json:"assignees"`
}

// Schedule is the full answer to "what was true on date D".
type Schedule struct {
	Date    Date            `json:"date"`
	Entries []ScheduleEntry `json:"entries"`
}
