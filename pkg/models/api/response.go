package api

import "time"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Scheduler *SchedulerStatus `json:"scheduler,omitempty"`
	Database  interface{}      `json:"database,omitempty"`
}

// SchedulerStatus describes the scheduler instance serving the API
type SchedulerStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// ExecutionResponse represents the last execution of a job
type ExecutionResponse struct {
	SchedulerID   string     `json:"scheduler_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Succeeded     bool       `json:"succeeded"`
	StatusMessage string     `json:"status_message"`
}

// JobResponse represents a job in API responses
type JobResponse struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	JobKey           string                 `json:"job_key"`
	TriggerKind      string                 `json:"trigger_kind"`
	TriggerActive    bool                   `json:"trigger_active"`
	JobData          map[string]interface{} `json:"job_data,omitempty"`
	State            string                 `json:"state"`
	CreationTime     time.Time              `json:"creation_time"`
	NextFireTime     *time.Time             `json:"next_fire_time,omitempty"`
	MisfireThreshold string                 `json:"misfire_threshold,omitempty"`
	LastExecution    *ExecutionResponse     `json:"last_execution,omitempty"`
}

// TriggerRequest describes the trigger of a job to create. Exactly one of
// Periodic and Cron must be set.
type TriggerRequest struct {
	Periodic *PeriodicTriggerRequest `json:"periodic,omitempty"`
	Cron     *CronTriggerRequest     `json:"cron,omitempty"`
}

// PeriodicTriggerRequest mirrors the periodic trigger options. Durations use
// Go syntax, e.g. "90s" or "1h".
type PeriodicTriggerRequest struct {
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	Period           string     `json:"period,omitempty"`
	ExecutionCount   *int       `json:"execution_count,omitempty"`
	MisfireAction    string     `json:"misfire_action,omitempty"`
	MisfireThreshold string     `json:"misfire_threshold,omitempty"`
}

// CronTriggerRequest creates a trigger from a standard five-field cron
// expression.
type CronTriggerRequest struct {
	Expression       string     `json:"expression"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	MisfireAction    string     `json:"misfire_action,omitempty"`
	MisfireThreshold string     `json:"misfire_threshold,omitempty"`
}

// JobRequest is the body of POST /api/jobs and PUT /api/jobs/{name}
type JobRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	JobKey      string                 `json:"job_key"`
	Trigger     TriggerRequest         `json:"trigger"`
	JobData     map[string]interface{} `json:"job_data,omitempty"`
}

// Response represents a general API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Message string      `json:"message,omitempty"`
}
