package domain

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is absorbing (completed or failed).
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Platform is the coarse source classification used for strategy dispatch.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformGeneric   Platform = "generic"
)

// Job represents a single retrieval request and its tracked state.
type Job struct {
	ID           string    `json:"job_id"`
	URL          string    `json:"url"`
	Platform     Platform  `json:"platform,omitempty"`
	Status       JobStatus `json:"status"`
	Message      string    `json:"message"`
	Progress     int64     `json:"progress_bytes"`
	Total        int64     `json:"total_bytes_estimate"`
	Title        string    `json:"title,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
	DownloadLink string    `json:"download_link,omitempty"`
	Strategy     string    `json:"strategy,omitempty"`
	OutputPath   string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Progress is an incremental update reported by a strategy while it works.
// Zero-valued fields are left untouched on the job record.
type Progress struct {
	Message    string
	Downloaded int64
	Total      int64
	Title      string
	Thumbnail  string
}

// Result is the successful outcome of a single strategy attempt.
type Result struct {
	OutputPath string
	Title      string
	Thumbnail  string
}
