package repository

import (
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
)

type courseRecord struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Credit           float64  `json:"credit"`
	Hours            int      `json:"hours"`
	Semester         string   `json:"semester"`
	TeacherID        string   `json:"teacherId"`
	MaxCapacity      int      `json:"maxCapacity"`
	EnrolledStudents []string `json:"enrolledStudents"`
}

// CourseManager owns the course catalogue and each course's membership set.
type CourseManager struct {
	*collection
	courses map[string]*models.Course
}

// NewCourseManager constructs an empty manager persisting to courses.json.
func NewCourseManager(store documentStore, opts Options) *CourseManager {
	return &CourseManager{
		collection: newCollection("courses", CoursesFile, store, opts),
		courses:    make(map[string]*models.Course),
	}
}

// AddCourse inserts a course. Any membership carried by course is kept, subject to capacity.
func (m *CourseManager) AddCourse(course *models.Course) error {
	if course == nil {
		return appErrors.Clone(appErrors.ErrInvalidInput, "course is required")
	}
	if err := m.check(course); err != nil {
		return err
	}
	if course.EnrolledCount() > course.MaxCapacity {
		return invalid("course %s has %d students over capacity %d", course.ID, course.EnrolledCount(), course.MaxCapacity)
	}

	guard, err := m.acquire("add")
	if err != nil {
		return err
	}
	defer guard.Release()

	if _, exists := m.courses[course.ID]; exists {
		return alreadyExists("course", course.ID)
	}
	m.courses[course.ID] = course.Clone()
	if err := m.commit(m.saveLocked, func() { delete(m.courses, course.ID) }); err != nil {
		return err
	}
	m.logger.Info("course added", zap.String("id", course.ID), zap.Int("max_capacity", course.MaxCapacity))
	return nil
}

// RemoveCourse deletes a course. Removing an absent id reports ErrDataNotFound.
func (m *CourseManager) RemoveCourse(id string) error {
	guard, err := m.acquire("remove")
	if err != nil {
		return err
	}
	defer guard.Release()

	existing, ok := m.courses[id]
	if !ok {
		return notFound("course", id)
	}
	delete(m.courses, id)
	if err := m.commit(m.saveLocked, func() { m.courses[id] = existing }); err != nil {
		return err
	}
	m.logger.Info("course removed", zap.String("id", id))
	return nil
}

// GetCourse returns a copy of the course, including its membership set.
func (m *CourseManager) GetCourse(id string) (*models.Course, error) {
	guard, err := m.acquire("get")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	course, ok := m.courses[id]
	if !ok {
		return nil, notFound("course", id)
	}
	return course.Clone(), nil
}

// HasCourse reports whether id exists.
func (m *CourseManager) HasCourse(id string) (bool, error) {
	guard, err := m.acquire("has")
	if err != nil {
		return false, err
	}
	defer guard.Release()

	_, ok := m.courses[id]
	return ok, nil
}

// UpdateCourseInfo overwrites every field except the id and membership set.
// Capacity may not drop below the current enrolled count.
func (m *CourseManager) UpdateCourseInfo(course *models.Course) error {
	if course == nil {
		return appErrors.Clone(appErrors.ErrInvalidInput, "course is required")
	}
	if err := m.check(course); err != nil {
		return err
	}

	guard, err := m.acquire("update")
	if err != nil {
		return err
	}
	defer guard.Release()

	existing, ok := m.courses[course.ID]
	if !ok {
		return notFound("course", course.ID)
	}
	if course.MaxCapacity < existing.EnrolledCount() {
		return invalid("course %s capacity %d below enrolled count %d", course.ID, course.MaxCapacity, existing.EnrolledCount())
	}

	updated := existing.Clone()
	updated.Name = course.Name
	updated.Type = course.Type
	updated.Credit = course.Credit
	updated.Hours = course.Hours
	updated.Semester = course.Semester
	updated.TeacherID = course.TeacherID
	updated.MaxCapacity = course.MaxCapacity

	m.courses[course.ID] = updated
	if err := m.commit(m.saveLocked, func() { m.courses[course.ID] = existing }); err != nil {
		return err
	}
	m.logger.Info("course updated", zap.String("id", course.ID))
	return nil
}

// AddStudentToCourse adds studentID to the course membership, enforcing capacity, and persists.
func (m *CourseManager) AddStudentToCourse(courseID, studentID string) error {
	guard, err := m.acquire("add_student")
	if err != nil {
		return err
	}
	defer guard.Release()

	course, ok := m.courses[courseID]
	if !ok {
		return notFound("course", courseID)
	}
	if err := course.AddStudent(studentID); err != nil {
		return err
	}
	return m.commit(m.saveLocked, func() { course.RemoveStudent(studentID) })
}

// RemoveStudentFromCourse removes studentID from the membership and reports whether it was present.
func (m *CourseManager) RemoveStudentFromCourse(courseID, studentID string) (bool, error) {
	guard, err := m.acquire("remove_student")
	if err != nil {
		return false, err
	}
	defer guard.Release()

	course, ok := m.courses[courseID]
	if !ok {
		return false, notFound("course", courseID)
	}
	if !course.RemoveStudent(studentID) {
		return false, nil
	}
	if err := m.commit(m.saveLocked, func() { course.EnrolledStudents[studentID] = struct{}{} }); err != nil {
		return false, err
	}
	return true, nil
}

// GetAllCourseIDs returns every course id, sorted.
func (m *CourseManager) GetAllCourseIDs() ([]string, error) {
	return m.FindCourses(nil)
}

// GetTeacherCourseIDs returns the courses taught by teacherID.
func (m *CourseManager) GetTeacherCourseIDs(teacherID string) ([]string, error) {
	return m.FindCourses(func(c *models.Course) bool { return c.TeacherID == teacherID })
}

// GetStudentEnrolledCourseIDs scans each course's membership set for studentID.
func (m *CourseManager) GetStudentEnrolledCourseIDs(studentID string) ([]string, error) {
	return m.FindCourses(func(c *models.Course) bool { return c.HasStudent(studentID) })
}

// FindCourses returns the sorted ids of courses matching pred. pred receives copies.
func (m *CourseManager) FindCourses(pred func(*models.Course) bool) ([]string, error) {
	guard, err := m.acquire("find")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	ids := make([]string, 0, len(m.courses))
	for id, course := range m.courses {
		if pred == nil || pred(course.Clone()) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveData writes courses.json. Pass alreadyLocked when the caller holds the collection lock.
func (m *CourseManager) SaveData(alreadyLocked bool) error {
	if !alreadyLocked {
		guard, err := m.acquire("save")
		if err != nil {
			return err
		}
		defer guard.Release()
	}
	return m.saveLocked()
}

func (m *CourseManager) saveLocked() error {
	ids := make([]string, 0, len(m.courses))
	for id := range m.courses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]courseRecord, 0, len(ids))
	for _, id := range ids {
		c := m.courses[id]
		records = append(records, courseRecord{
			ID:               c.ID,
			Name:             c.Name,
			Type:             string(c.Type),
			Credit:           c.Credit,
			Hours:            c.Hours,
			Semester:         c.Semester,
			TeacherID:        c.TeacherID,
			MaxCapacity:      c.MaxCapacity,
			EnrolledStudents: c.StudentIDs(),
		})
	}
	return m.persist(records, len(records))
}

// LoadData replaces the catalogue with courses.json. Unknown course types load as ELECTIVE;
// an entry that fails field validation aborts the load.
func (m *CourseManager) LoadData() error {
	guard, err := m.acquire("load")
	if err != nil {
		return err
	}
	defer guard.Release()

	var records []courseRecord
	found, err := m.readDocument(&records)
	if err != nil {
		return err
	}

	loaded := make(map[string]*models.Course, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return invalid("%s entry %d has no id", m.file, i)
		}
		if _, dup := loaded[rec.ID]; dup {
			return invalid("%s has duplicate id %s", m.file, rec.ID)
		}
		courseType, ok := models.ParseCourseType(rec.Type)
		if !ok {
			m.logger.Warn("unknown course type, defaulting to ELECTIVE", zap.String("id", rec.ID), zap.String("type", rec.Type))
		}
		course := models.NewCourse(rec.ID, rec.Name, courseType, rec.Credit, rec.Hours, rec.Semester, rec.TeacherID, rec.MaxCapacity)
		if err := m.check(course); err != nil {
			return err
		}
		for _, sid := range rec.EnrolledStudents {
			course.EnrolledStudents[sid] = struct{}{}
		}
		if course.EnrolledCount() > course.MaxCapacity {
			m.logger.Warn("course membership exceeds capacity", zap.String("id", rec.ID),
				zap.Int("enrolled", course.EnrolledCount()), zap.Int("max_capacity", course.MaxCapacity))
		}
		loaded[rec.ID] = course
	}

	m.courses = loaded
	m.observer.SetRecordCount(m.name, len(loaded))
	m.logger.Info("courses loaded", zap.Int("count", len(loaded)), zap.Bool("file_found", found))
	return nil
}
