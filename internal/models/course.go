package models

import "time"

// Course is a subject taught by a teacher to enrolled students.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	TeacherID   *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TaughtBy reports whether userID teaches the course.
func (c Course) TaughtBy(userID string) bool {
	return c.TeacherID != nil && *c.TeacherID == userID
}

// CreateCourseRequest creates a course. Admins may assign another teacher.
type CreateCourseRequest struct {
	Code        string  `json:"code" validate:"required,min=2,max=32"`
	Name        string  `json:"name" validate:"required,min=2,max=128"`
	Description string  `json:"description" validate:"omitempty,max=1000"`
	TeacherID   *string `json:"teacher_id" validate:"omitempty"`
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	TeacherID string
	StudentID string
	Search    string
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// EnrollRequest enrolls a student; empty StudentID enrolls the caller.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"omitempty"`
}

// EnrolledStudent is a roster line for a course.
type EnrolledStudent struct {
	StudentID  string  `db:"student_id" json:"student_id"`
	Username   string  `db:"username" json:"username"`
	RollNumber *string `db:"roll_number" json:"roll_number,omitempty"`
	FullName   string  `db:"full_name" json:"full_name"`
	Department string  `db:"department" json:"department"`
}
