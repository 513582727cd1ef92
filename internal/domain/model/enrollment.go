package model

import "time"

// Статусы записи на курс.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentDropped   = "dropped"
)

// Enrollment — запись слушателя на курс.
// Хранится в таблице enrollments, пара (learner_id, course_id) уникальна.
type Enrollment struct {
	ID                 string     `json:"id"`
	LearnerID          string     `json:"learner_id"`
	CourseID           string     `json:"course_id"`
	Status             string     `json:"status"`
	ProgressPercentage int        `json:"progress_percentage"`
	EnrolledAt         time.Time  `json:"enrolled_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// DuplicateGroup — группа строк profiles с одинаковым id.
type DuplicateGroup struct {
	UserID string    `json:"user_id"`
	Count  int       `json:"count"`
	Oldest time.Time `json:"oldest_created_at"`
}
