package domain

import "time"

// =============================================================================
// RealtimeEvent - Notification Sink 으로 전달되는 이벤트
// =============================================================================

// RealtimeEvent is a typed progress or summary event keyed by user.
type RealtimeEvent struct {
	Type      EventType `json:"type"`
	Seq       int64     `json:"seq"` // 순서 보장용 시퀀스 번호
	UserID    string    `json:"user_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type EventType string

const (
	// Sync events
	EventSyncProgress  EventType = "sync.progress"
	EventSyncCompleted EventType = "sync.completed"
	EventSyncFailed    EventType = "sync.failed"

	// Connection events
	EventConnectionDisconnected EventType = "connection.disconnected"

	// Refinement events
	EventRefinementSummary   EventType = "refinement.summary"
	EventRefinementCompleted EventType = "refinement.completed"

	// Reclassification events
	EventReclassifyProgress  EventType = "reclassify.progress"
	EventReclassifyCompleted EventType = "reclassify.completed"
	EventReclassifyFailed    EventType = "reclassify.failed"

	// Category events
	EventCategoryChanged EventType = "category.changed"
)

// NewEvent builds an event stamped with the current time.
func NewEvent(userID string, typ EventType, data any) *RealtimeEvent {
	return &RealtimeEvent{
		Type:      typ,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// SyncProgressData is published after every listing page.
type SyncProgressData struct {
	Provider Provider `json:"provider"`
	Mode     string   `json:"mode"`
	Page     int      `json:"page"`
	Total    int      `json:"total"`
	Fetched  int      `json:"fetched"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
}

// SyncFailedData is published when a sync run aborts.
type SyncFailedData struct {
	Provider Provider `json:"provider"`
	Mode     string   `json:"mode"`
	Error    string   `json:"error"`
}

// DisconnectedData is published when a provider connection is removed.
type DisconnectedData struct {
	Provider Provider `json:"provider"`
	Purged   int64    `json:"purged"`
}

// RefinementSummaryData is the periodic refinement worker report.
type RefinementSummaryData struct {
	Processed         int            `json:"processed"`
	Reclassified      int            `json:"reclassified"`
	ConfidenceUpdated int            `json:"confidence_updated"`
	Unchanged         int            `json:"unchanged"`
	Failed            int            `json:"failed"`
	Transitions       map[string]int `json:"transitions,omitempty"` // "old->new" -> count
	Since             time.Time      `json:"since"`
	Final             bool           `json:"final"`
	Reason            string         `json:"reason,omitempty"`
}

// ReclassifyProgressData is published after every job batch.
type ReclassifyProgressData struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	Total        int64     `json:"total"`
	Processed    int64     `json:"processed"`
	Successful   int64     `json:"successful"`
	Failed       int64     `json:"failed"`
	CurrentBatch int       `json:"current_batch"`
	TotalBatches int       `json:"total_batches"`
}

// ReclassifySummaryData is published when a job reaches a terminal state.
type ReclassifySummaryData struct {
	JobID          string           `json:"job_id"`
	Status         JobStatus        `json:"status"`
	Processed      int64            `json:"processed"`
	Successful     int64            `json:"successful"`
	Failed         int64            `json:"failed"`
	Changed        int64            `json:"changed"`
	CategoryDeltas map[string]int64 `json:"category_deltas,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// CategoryChangedData is published on category mutations.
type CategoryChangedData struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Action     string `json:"action"`
	Relabeled  int64  `json:"relabeled,omitempty"`
}

// NewReclassifyProgress snapshots a job for a progress event.
func NewReclassifyProgress(j *ReclassifyJob) *ReclassifyProgressData {
	return &ReclassifyProgressData{
		JobID:        j.ID,
		Status:       j.Status,
		Total:        j.Total,
		Processed:    j.Processed,
		Successful:   j.Successful,
		Failed:       j.Failed,
		CurrentBatch: j.CurrentBatch,
		TotalBatches: j.TotalBatches,
	}
}
