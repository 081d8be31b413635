package domain

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusDone
}

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

type Task struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	DueDate     time.Time `json:"dueDate" yaml:"dueDate"`
	Location    string    `json:"location" yaml:"location"`
	Attachments []string  `json:"attachments" yaml:"attachments"`
	Status      Status    `json:"status" yaml:"status"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	c := t
	c.Attachments = append([]string{}, t.Attachments...)
	return c
}

type HistoryEntry struct {
	ID        string    `json:"id" yaml:"id"`
	Action    Action    `json:"action" yaml:"action"`
	TaskID    string    `json:"taskId" yaml:"taskId"`
	TaskTitle string    `json:"taskTitle" yaml:"taskTitle"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// TaskDraft is the input to create a task.
type TaskDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"dueDate"`
	Location    string    `json:"location"`
	Attachments []string  `json:"attachments"`
}

// TaskPatch replaces every non-nil field of an existing task.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Attachments *[]string  `json:"attachments,omitempty"`
	Status      *Status    `json:"status,omitempty"`
}

// Apply returns t with the patch merged in.
func (p TaskPatch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.DueDate != nil {
		out.DueDate = *p.DueDate
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.Attachments != nil {
		out.Attachments = append([]string{}, (*p.Attachments)...)
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	return out
}

type PendingSyncRecord struct {
	Tasks     []Task    `json:"tasks"`
	Timestamp time.Time `json:"timestamp"`
}

// ReminderSlot describes the reminder currently armed for a task.
type ReminderSlot struct {
	TaskID         string    `json:"taskId"`
	Title          string    `json:"title"`
	FireAt         time.Time `json:"fireAt"`
	PushID         string    `json:"pushId,omitempty"`
	LocalArmed     bool      `json:"localArmed"`
	PushRegistered bool      `json:"pushRegistered"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Pin is a task placed on the map.
type Pin struct {
	Task        Task        `json:"task"`
	Coordinates Coordinates `json:"coordinates"`
}

type Export struct {
	Tasks        []Task         `json:"tasks" yaml:"tasks"`
	History      []HistoryEntry `json:"history" yaml:"history"`
	ExportDate   time.Time      `json:"exportDate" yaml:"exportDate"`
	TotalTasks   int            `json:"totalTasks" yaml:"totalTasks"`
	TotalHistory int            `json:"totalHistory" yaml:"totalHistory"`
}
