package domain

// Typed views over the generic Record shape. The engine operates on field
// maps validated by the catalog; these structs give callers a schema-checked
// way to build payloads and read results without stringly-typed access.

// Activity is a long-running organizational effort, such as a crew or duty.
type Activity struct {
	Entry        int64  `json:"entry"`
	Version      int64  `json:"version"`
	Status       Status `json:"status"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Icon         string `json:"icon,omitempty"`
	ActivityType int64  `json:"activity_type"`
	StartDate    Date   `json:"start_date"`
	EndDate      *Date  `json:"end_date,omitempty"`
}

// Fields flattens the business columns for the engine's write path.
func (a Activity) Fields() map[string]any {
	return map[string]any{
		FieldName:         a.Name,
		FieldDescription:  a.Description,
		FieldIcon:         a.Icon,
		FieldActivityType: a.ActivityType,
		FieldStartDate:    a.StartDate,
		FieldEndDate:      a.EndDate,
	}
}

// ActivityFromRecord projects a store record into the typed shape.
func ActivityFromRecord(r Record) Activity {
	return Activity{
		Entry:        r.Entry,
		Version:      r.Version,
		Status:       r.Status,
		Name:         r.StringField(FieldName),
		Description:  r.StringField(FieldDescription),
		Icon:         r.StringField(FieldIcon),
		ActivityType: r.RefField(FieldActivityType),
		StartDate:    r.StartDate(),
		EndDate:      r.EndDate(),
	}
}

// Task is a unit of work inside an activity.
type Task struct {
	Entry       int64  `json:"entry"`
	Version     int64  `json:"version"`
	Status      Status `json:"status"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Activity    int64  `json:"activity"`
	StartDate   Date   `json:"start_date"`
	EndDate     *Date  `json:"end_date,omitempty"`
}

func (t Task) Fields() map[string]any {
	return map[string]any{
		FieldName:        t.Name,
		FieldDescription: t.Description,
		FieldActivity:    t.Activity,
		FieldStartDate:   t.StartDate,
		FieldEndDate:     t.EndDate,
	}
}

func TaskFromRecord(r Record) Task {
	return Task{
		Entry:       r.Entry,
		Version:     r.Version,
		Status:      r.Status,
		Name:        r.StringField(FieldName),
		Description: r.StringField(FieldDescription),
		Activity:    r.RefField(FieldActivity),
		StartDate:   r.StartDate(),
		EndDate:     r.EndDate(),
	}
}

// ResponsibleFor links a user to the activity they answer for during a
// validity window.
type ResponsibleFor struct {
	Entry     int64
	Version   int64
	Status    Status
	User      int64
	Activity  int64
	StartDate Date
	EndDate   *Date
}

func (rf ResponsibleFor) Fields() map[string]any {
	return map[string]any{
		FieldUser:      rf.User,
		FieldActivity:  rf.Activity,
		FieldStartDate: rf.StartDate,
		FieldEndDate:   rf.EndDate,
	}
}

func ResponsibleForFromRecord(r Record) ResponsibleFor {
	return ResponsibleFor{
		Entry:     r.Entry,
		Version:   r.Version,
		Status:    r.Status,
		User:      r.RefField(FieldUser),
		Activity:  r.RefField(FieldActivity),
		StartDate: r.StartDate(),
		EndDate:   r.EndDate(),
	}
}

// AssignedTo links a user to a task during a validity window.
type AssignedTo struct {
	Entry     int64
	Version   int64
	Status    Status
	User      int64
	Task      int64
	StartDate Date
	EndDate   *Date
}

func (at AssignedTo) Fields() map[string]any {
	return map[string]any{
		FieldUser:      at.User,
		FieldTask:      at.Task,
		FieldStartDate: at.StartDate,
		FieldEndDate:   at.EndDate,
	}
}

func AssignedToFromRecord(r Record) AssignedTo {
	return AssignedTo{
		Entry:     r.Entry,
		Version:   r.Version,
		Status:    r.Status,
		User:      r.RefField(FieldUser),
		Task:      r.RefField(FieldTask),
		StartDate: r.StartDate(),
		EndDate:   r.EndDate(),
	}
}

// User is an identity-provider principal referenced by assignments. Not
// versioned; the identity provider owns it.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// ActivityType is the static classification an activity belongs to.
type ActivityType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
