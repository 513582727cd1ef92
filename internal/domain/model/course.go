package model

import "time"

// Уровни сложности курса.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// CourseStatusPublished — курс виден в каталоге.
const CourseStatusPublished = "published"

// Course — опубликованный курс в каталоге.
// InstructorName — full_name первой строки профиля преподавателя.
type Course struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ThumbnailURL    *string   `json:"thumbnail_url"`
	Price           float64   `json:"price"`
	Level           *string   `json:"level"`
	DurationHours   int       `json:"duration_hours"`
	CategoryID      *string   `json:"category_id"`
	CategoryName    *string   `json:"category_name"`
	InstructorName  *string   `json:"instructor_name"`
	EnrollmentCount int       `json:"enrollment_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Category — категория курсов.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
