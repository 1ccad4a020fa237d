package repository

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
)

type enrollmentRecord struct {
	StudentID      string `json:"studentId"`
	CourseID       string `json:"courseId"`
	EnrollmentTime string `json:"enrollmentTime"`
}

// EnrollmentManager owns enrollment records keyed by (student, course).
type EnrollmentManager struct {
	*collection
	enrollments map[models.EnrollmentKey]*models.Enrollment
}

// NewEnrollmentManager constructs an empty manager persisting to enrollment.json.
func NewEnrollmentManager(store documentStore, opts Options) *EnrollmentManager {
	return &EnrollmentManager{
		collection:  newCollection("enrollments", EnrollmentsFile, store, opts),
		enrollments: make(map[models.EnrollmentKey]*models.Enrollment),
	}
}

// AddEnrollment inserts the record unless one already exists for the pair.
func (m *EnrollmentManager) AddEnrollment(enrollment *models.Enrollment) error {
	if enrollment == nil {
		return appErrors.Clone(appErrors.ErrInvalidInput, "enrollment is required")
	}
	if err := m.check(enrollment); err != nil {
		return err
	}

	guard, err := m.acquire("add")
	if err != nil {
		return err
	}
	defer guard.Release()

	key := enrollment.Key()
	if _, exists := m.enrollments[key]; exists {
		return appErrors.Clone(appErrors.ErrAlreadyEnrolled,
			fmt.Sprintf("student %s already enrolled in %s", key.StudentID, key.CourseID))
	}
	m.enrollments[key] = enrollment.Clone()
	return m.commit(m.saveLocked, func() { delete(m.enrollments, key) })
}

// RemoveEnrollment deletes the record for the pair. An absent record is not an error.
func (m *EnrollmentManager) RemoveEnrollment(studentID, courseID string) error {
	_, err := m.DeleteEnrollment(studentID, courseID)
	return err
}

// DeleteEnrollment deletes the record for the pair and reports whether it existed.
func (m *EnrollmentManager) DeleteEnrollment(studentID, courseID string) (bool, error) {
	guard, err := m.acquire("remove")
	if err != nil {
		return false, err
	}
	defer guard.Release()

	key := models.EnrollmentKey{StudentID: studentID, CourseID: courseID}
	existing, ok := m.enrollments[key]
	if !ok {
		return false, nil
	}
	delete(m.enrollments, key)
	if err := m.commit(m.saveLocked, func() { m.enrollments[key] = existing }); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveStudentEnrollments deletes every record of studentID and returns the affected course ids.
func (m *EnrollmentManager) RemoveStudentEnrollments(studentID string) ([]string, error) {
	return m.removeWhere("remove_student", func(k models.EnrollmentKey) (bool, string) {
		return k.StudentID == studentID, k.CourseID
	})
}

// RemoveCourseEnrollments deletes every record of courseID and returns the affected student ids.
func (m *EnrollmentManager) RemoveCourseEnrollments(courseID string) ([]string, error) {
	return m.removeWhere("remove_course", func(k models.EnrollmentKey) (bool, string) {
		return k.CourseID == courseID, k.StudentID
	})
}

func (m *EnrollmentManager) removeWhere(op string, match func(models.EnrollmentKey) (bool, string)) ([]string, error) {
	guard, err := m.acquire(op)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	removed := make(map[models.EnrollmentKey]*models.Enrollment)
	ids := make([]string, 0)
	for key, e := range m.enrollments {
		if ok, other := match(key); ok {
			removed[key] = e
			ids = append(ids, other)
		}
	}
	if len(removed) == 0 {
		return ids, nil
	}
	for key := range removed {
		delete(m.enrollments, key)
	}
	if err := m.commit(m.saveLocked, func() {
		for key, e := range removed {
			m.enrollments[key] = e
		}
	}); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// IsEnrolled reports whether a record exists for the pair.
func (m *EnrollmentManager) IsEnrolled(studentID, courseID string) (bool, error) {
	guard, err := m.acquire("is_enrolled")
	if err != nil {
		return false, err
	}
	defer guard.Release()

	_, ok := m.enrollments[models.EnrollmentKey{StudentID: studentID, CourseID: courseID}]
	return ok, nil
}

// GetEnrollment returns a copy of the record for the pair.
func (m *EnrollmentManager) GetEnrollment(studentID, courseID string) (*models.Enrollment, error) {
	guard, err := m.acquire("get")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	e, ok := m.enrollments[models.EnrollmentKey{StudentID: studentID, CourseID: courseID}]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled,
			fmt.Sprintf("student %s not enrolled in %s", studentID, courseID))
	}
	return e.Clone(), nil
}

// GetStudentEnrollments returns the records of studentID ordered by course id.
func (m *EnrollmentManager) GetStudentEnrollments(studentID string) ([]*models.Enrollment, error) {
	return m.FindEnrollments(func(e *models.Enrollment) bool { return e.StudentID == studentID })
}

// GetCourseEnrollments returns the records of courseID ordered by student id.
func (m *EnrollmentManager) GetCourseEnrollments(courseID string) ([]*models.Enrollment, error) {
	return m.FindEnrollments(func(e *models.Enrollment) bool { return e.CourseID == courseID })
}

// FindEnrollments returns copies of the records matching pred, ordered by (course, student).
func (m *EnrollmentManager) FindEnrollments(pred func(*models.Enrollment) bool) ([]*models.Enrollment, error) {
	guard, err := m.acquire("find")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	result := make([]*models.Enrollment, 0)
	for _, e := range m.enrollments {
		c := e.Clone()
		if pred == nil || pred(c) {
			result = append(result, c)
		}
	}
	sortEnrollments(result)
	return result, nil
}

// Count returns the number of records.
func (m *EnrollmentManager) Count() (int, error) {
	guard, err := m.acquire("count")
	if err != nil {
		return 0, err
	}
	defer guard.Release()
	return len(m.enrollments), nil
}

// SaveData writes enrollment.json. Pass alreadyLocked when the caller holds the collection lock.
func (m *EnrollmentManager) SaveData(alreadyLocked bool) error {
	if !alreadyLocked {
		guard, err := m.acquire("save")
		if err != nil {
			return err
		}
		defer guard.Release()
	}
	return m.saveLocked()
}

func (m *EnrollmentManager) saveLocked() error {
	all := make([]*models.Enrollment, 0, len(m.enrollments))
	for _, e := range m.enrollments {
		all = append(all, e)
	}
	sortEnrollments(all)

	records := make([]enrollmentRecord, 0, len(all))
	for _, e := range all {
		records = append(records, enrollmentRecord{StudentID: e.StudentID, CourseID: e.CourseID, EnrollmentTime: e.EnrollmentTime})
	}
	return m.persist(records, len(records))
}

// LoadData replaces the records with enrollment.json, keeping the persisted enrollment times.
func (m *EnrollmentManager) LoadData() error {
	guard, err := m.acquire("load")
	if err != nil {
		return err
	}
	defer guard.Release()

	var records []enrollmentRecord
	found, err := m.readDocument(&records)
	if err != nil {
		return err
	}

	loaded := make(map[models.EnrollmentKey]*models.Enrollment, len(records))
	for i, rec := range records {
		if rec.StudentID == "" || rec.CourseID == "" {
			return invalid("%s entry %d is missing studentId or courseId", m.file, i)
		}
		e := &models.Enrollment{StudentID: rec.StudentID, CourseID: rec.CourseID, EnrollmentTime: rec.EnrollmentTime}
		if _, dup := loaded[e.Key()]; dup {
			m.logger.Warn("duplicate enrollment ignored", zap.String("student_id", rec.StudentID), zap.String("course_id", rec.CourseID))
			continue
		}
		loaded[e.Key()] = e
	}

	m.enrollments = loaded
	m.observer.SetRecordCount(m.name, len(loaded))
	m.logger.Info("enrollments loaded", zap.Int("count", len(loaded)), zap.Bool("file_found", found))
	return nil
}

func sortEnrollments(list []*models.Enrollment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CourseID != list[j].CourseID {
			return list[i].CourseID < list[j].CourseID
		}
		return list[i].StudentID < list[j].StudentID
	})
}
