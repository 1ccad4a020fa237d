package models

import (
	"fmt"
	"sort"

	appErrors "github.com/noah-isme/course-registry/pkg/errors"
)

// CourseType classifies a course.
type CourseType string

const (
	CourseRequired   CourseType = "REQUIRED"
	CourseElective   CourseType = "ELECTIVE"
	CourseRestricted CourseType = "RESTRICTED"
)

// ParseCourseType maps a persisted type string. Unknown values fall back to ELECTIVE with ok=false.
func ParseCourseType(raw string) (CourseType, bool) {
	switch CourseType(raw) {
	case CourseRequired, CourseElective, CourseRestricted:
		return CourseType(raw), true
	default:
		return CourseElective, false
	}
}

// Course is a schedulable course. The course owns its set of enrolled student ids,
// and len(EnrolledStudents) never exceeds MaxCapacity.
type Course struct {
	ID               string     `validate:"required,excludesall=/\\"`
	Name             string     `validate:"required"`
	Type             CourseType `validate:"required,oneof=REQUIRED ELECTIVE RESTRICTED"`
	Credit           float64    `validate:"gte=0"`
	Hours            int        `validate:"gte=0"`
	Semester         string
	TeacherID        string
	MaxCapacity      int `validate:"gt=0"`
	EnrolledStudents map[string]struct{}
}

// NewCourse builds a course with an empty membership set.
func NewCourse(id, name string, courseType CourseType, credit float64, hours int, semester, teacherID string, maxCapacity int) *Course {
	return &Course{
		ID:               id,
		Name:             name,
		Type:             courseType,
		Credit:           credit,
		Hours:            hours,
		Semester:         semester,
		TeacherID:        teacherID,
		MaxCapacity:      maxCapacity,
		EnrolledStudents: make(map[string]struct{}),
	}
}

// AddStudent enrolls studentID into the membership set, enforcing capacity.
func (c *Course) AddStudent(studentID string) error {
	if c.EnrolledStudents == nil {
		c.EnrolledStudents = make(map[string]struct{})
	}
	if _, ok := c.EnrolledStudents[studentID]; ok {
		return appErrors.Clone(appErrors.ErrAlreadyEnrolled, fmt.Sprintf("student %s already in course %s", studentID, c.ID))
	}
	if len(c.EnrolledStudents) >= c.MaxCapacity {
		return appErrors.Clone(appErrors.ErrCourseFull, fmt.Sprintf("course %s is full (%d/%d)", c.ID, len(c.EnrolledStudents), c.MaxCapacity))
	}
	c.EnrolledStudents[studentID] = struct{}{}
	return nil
}

// RemoveStudent removes studentID and reports whether it was present.
func (c *Course) RemoveStudent(studentID string) bool {
	if _, ok := c.EnrolledStudents[studentID]; !ok {
		return false
	}
	delete(c.EnrolledStudents, studentID)
	return true
}

// HasStudent reports membership.
func (c *Course) HasStudent(studentID string) bool {
	_, ok := c.EnrolledStudents[studentID]
	return ok
}

// EnrolledCount returns the membership size.
func (c *Course) EnrolledCount() int {
	return len(c.EnrolledStudents)
}

// IsFull reports whether no seat remains.
func (c *Course) IsFull() bool {
	return len(c.EnrolledStudents) >= c.MaxCapacity
}

// StudentIDs returns the membership set in sorted order.
func (c *Course) StudentIDs() []string {
	ids := make([]string, 0, len(c.EnrolledStudents))
	for id := range c.EnrolledStudents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy including the membership set.
func (c *Course) Clone() *Course {
	if c == nil {
		return nil
	}
	clone := *c
	clone.EnrolledStudents = make(map[string]struct{}, len(c.EnrolledStudents))
	for id := range c.EnrolledStudents {
		clone.EnrolledStudents[id] = struct{}{}
	}
	return &clone
}
