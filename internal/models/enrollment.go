package models

import "time"

// EnrollmentTimeLayout is the persisted format of Enrollment.EnrollmentTime.
const EnrollmentTimeLayout = "2006-01-02 15:04:05"

// EnrollmentKey identifies an enrollment by the (student, course) pair.
type EnrollmentKey struct {
	StudentID string
	CourseID  string
}

// Enrollment records that a student holds a seat in a course. There is at most one per key;
// dropping deletes the record rather than marking it.
type Enrollment struct {
	StudentID      string `validate:"required"`
	CourseID       string `validate:"required"`
	EnrollmentTime string
}

// NewEnrollment stamps the enrollment with now.
func NewEnrollment(studentID, courseID string, now time.Time) *Enrollment {
	return &Enrollment{
		StudentID:      studentID,
		CourseID:       courseID,
		EnrollmentTime: now.Format(EnrollmentTimeLayout),
	}
}

// Key returns the composite key.
func (e *Enrollment) Key() EnrollmentKey {
	return EnrollmentKey{StudentID: e.StudentID, CourseID: e.CourseID}
}

// Clone returns a copy.
func (e *Enrollment) Clone() *Enrollment {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
