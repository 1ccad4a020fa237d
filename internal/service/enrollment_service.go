package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
	"github.com/noah-isme/course-registry/pkg/lock"
)

type userDirectory interface {
	GetUser(id string) (*models.User, error)
	GetStudent(id string) (*models.User, error)
	RemoveUser(id string) error
}

type courseCatalog interface {
	GetCourse(id string) (*models.Course, error)
	RemoveCourse(id string) error
	FindCourses(pred func(*models.Course) bool) ([]string, error)
	AddStudentToCourse(courseID, studentID string) error
	RemoveStudentFromCourse(courseID, studentID string) (bool, error)
}

type enrollmentStore interface {
	AddEnrollment(enrollment *models.Enrollment) error
	RemoveEnrollment(studentID, courseID string) error
	DeleteEnrollment(studentID, courseID string) (bool, error)
	IsEnrolled(studentID, courseID string) (bool, error)
	GetEnrollment(studentID, courseID string) (*models.Enrollment, error)
	GetStudentEnrollments(studentID string) ([]*models.Enrollment, error)
	GetCourseEnrollments(courseID string) ([]*models.Enrollment, error)
	FindEnrollments(pred func(*models.Enrollment) bool) ([]*models.Enrollment, error)
	RemoveStudentEnrollments(studentID string) ([]string, error)
	RemoveCourseEnrollments(courseID string) ([]string, error)
}

type operationRecorder interface {
	RecordEnrollmentOperation(operation string, err error)
}

// EnrollmentConfig tunes the workflow.
type EnrollmentConfig struct {
	LockTimeout time.Duration
	Now         func() time.Time
}

// ReconcileReport counts the repairs made by Reconcile.
type ReconcileReport struct {
	MembershipsAdded   int `json:"memberships_added"`
	MembershipsRemoved int `json:"memberships_removed"`
	EnrollmentsCreated int `json:"enrollments_created"`
	EnrollmentsRemoved int `json:"enrollments_removed"`
}

// Total returns the number of repairs.
func (r ReconcileReport) Total() int {
	return r.MembershipsAdded + r.MembershipsRemoved + r.EnrollmentsCreated + r.EnrollmentsRemoved
}

// EnrollmentService orchestrates enroll and drop across the user, course and enrollment collections.
//
// Each step locks only the manager it calls, so no two manager locks are held at once.
// The service's own lock serialises workflows so a pair cannot be enrolled and dropped concurrently.
// The two collections are not updated atomically together: when the second step fails, the first is
// compensated; a crash between steps leaves drift that Reconcile repairs.
type EnrollmentService struct {
	users       userDirectory
	courses     courseCatalog
	enrollments enrollmentStore
	recorder    operationRecorder
	logger      *zap.Logger

	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(users userDirectory, courses courseCatalog, enrollments enrollmentStore, recorder operationRecorder, logger *zap.Logger, cfg EnrollmentConfig) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = lock.DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &EnrollmentService{
		users:       users,
		courses:     courses,
		enrollments: enrollments,
		recorder:    recorder,
		logger:      logger.Named("enrollment"),
		timeout:     cfg.LockTimeout,
		now:         cfg.Now,
	}
}

// EnrollCourse enrolls studentID into courseID.
// Missing student or course yields ErrDataNotFound; business rule violations yield
// ErrAlreadyEnrolled or ErrCourseFull.
func (s *EnrollmentService) EnrollCourse(studentID, courseID string) (enrollment *models.Enrollment, err error) {
	log := s.operationLogger("enroll", studentID, courseID)
	defer func() { s.record("enroll", log, err) }()

	guard, err := lock.Acquire(&s.mu, s.timeout)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	if _, err := s.users.GetStudent(studentID); err != nil {
		return nil, err
	}
	course, err := s.courses.GetCourse(courseID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.enrollments.IsEnrolled(studentID, courseID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, fmt.Sprintf("student %s already enrolled in %s", studentID, courseID))
	}
	if course.IsFull() && !course.HasStudent(studentID) {
		return nil, appErrors.Clone(appErrors.ErrCourseFull, fmt.Sprintf("course %s is full (%d/%d)", courseID, course.EnrolledCount(), course.MaxCapacity))
	}

	record := models.NewEnrollment(studentID, courseID, s.now())
	if err := s.enrollments.AddEnrollment(record); err != nil {
		return nil, err
	}

	if err := s.courses.AddStudentToCourse(courseID, studentID); err != nil {
		if errors.Is(err, appErrors.ErrAlreadyEnrolled) {
			// membership already present from earlier drift; the new record completes the pair
			log.Warn("course membership already present")
			return record, nil
		}
		if cerr := s.enrollments.RemoveEnrollment(studentID, courseID); cerr != nil {
			log.Error("compensation failed: enrollment left without membership", zap.Error(cerr))
			return nil, appErrors.Wrap(cerr, appErrors.ErrConcurrentModification.Code,
				fmt.Sprintf("enrollment %s/%s left inconsistent after: %v", studentID, courseID, err))
		}
		log.Info("enrollment compensated", zap.Error(err))
		return nil, err
	}

	return record, nil
}

// DropCourse removes the enrollment of studentID in courseID. ErrNotEnrolled when none exists.
func (s *EnrollmentService) DropCourse(studentID, courseID string) (err error) {
	log := s.operationLogger("drop", studentID, courseID)
	defer func() { s.record("drop", log, err) }()

	guard, err := lock.Acquire(&s.mu, s.timeout)
	if err != nil {
		return err
	}
	defer guard.Release()

	existing, err := s.enrollments.GetEnrollment(studentID, courseID)
	if err != nil {
		return err
	}
	existed, err := s.enrollments.DeleteEnrollment(studentID, courseID)
	if err != nil {
		return err
	}
	if !existed {
		return appErrors.Clone(appErrors.ErrNotEnrolled, fmt.Sprintf("student %s not enrolled in %s", studentID, courseID))
	}

	if _, err := s.courses.RemoveStudentFromCourse(courseID, studentID); err != nil {
		if errors.Is(err, appErrors.ErrDataNotFound) {
			log.Warn("course missing while dropping enrollment")
			return nil
		}
		if cerr := s.enrollments.AddEnrollment(existing); cerr != nil {
			log.Error("compensation failed: membership left without enrollment", zap.Error(cerr))
			return appErrors.Wrap(cerr, appErrors.ErrConcurrentModification.Code,
				fmt.Sprintf("drop %s/%s left inconsistent after: %v", studentID, courseID, err))
		}
		log.Info("drop compensated", zap.Error(err))
		return err
	}
	return nil
}

// IsEnrolled reports whether the pair has an enrollment record.
func (s *EnrollmentService) IsEnrolled(studentID, courseID string) (bool, error) {
	return s.enrollments.IsEnrolled(studentID, courseID)
}

// GetEnrollment returns the record for the pair.
func (s *EnrollmentService) GetEnrollment(studentID, courseID string) (*models.Enrollment, error) {
	return s.enrollments.GetEnrollment(studentID, courseID)
}

// GetStudentEnrollments lists the enrollments of a student.
func (s *EnrollmentService) GetStudentEnrollments(studentID string) ([]*models.Enrollment, error) {
	return s.enrollments.GetStudentEnrollments(studentID)
}

// GetCourseEnrollments lists the enrollments of a course.
func (s *EnrollmentService) GetCourseEnrollments(courseID string) ([]*models.Enrollment, error) {
	return s.enrollments.GetCourseEnrollments(courseID)
}

// FindEnrollments lists the enrollments matching pred.
func (s *EnrollmentService) FindEnrollments(pred func(*models.Enrollment) bool) ([]*models.Enrollment, error) {
	return s.enrollments.FindEnrollments(pred)
}

// RemoveUser deletes an account; a student's enrollments and course seats are released first.
func (s *EnrollmentService) RemoveUser(userID string) (err error) {
	log := s.operationLogger("remove_user", userID, "")
	defer func() { s.record("remove_user", log, err) }()

	guard, err := lock.Acquire(&s.mu, s.timeout)
	if err != nil {
		return err
	}
	defer guard.Release()

	user, err := s.users.GetUser(userID)
	if err != nil {
		return err
	}
	if user.Role == models.RoleStudent {
		if _, err := s.enrollments.RemoveStudentEnrollments(userID); err != nil {
			return err
		}
		courseIDs, err := s.courses.FindCourses(func(c *models.Course) bool { return c.HasStudent(userID) })
		if err != nil {
			return err
		}
		for _, courseID := range courseIDs {
			if _, err := s.courses.RemoveStudentFromCourse(courseID, userID); err != nil && !errors.Is(err, appErrors.ErrDataNotFound) {
				return err
			}
		}
	}
	return s.users.RemoveUser(userID)
}

// RemoveCourse deletes a course together with its enrollment records.
func (s *EnrollmentService) RemoveCourse(courseID string) (err error) {
	log := s.operationLogger("remove_course", "", courseID)
	defer func() { s.record("remove_course", log, err) }()

	guard, err := lock.Acquire(&s.mu, s.timeout)
	if err != nil {
		return err
	}
	defer guard.Release()

	if _, err := s.courses.GetCourse(courseID); err != nil {
		return err
	}
	if _, err := s.enrollments.RemoveCourseEnrollments(courseID); err != nil {
		return err
	}
	return s.courses.RemoveCourse(courseID)
}

// Reconcile repairs drift between enrollment records and course membership sets.
// An enrollment without a seat gets one when capacity allows and is removed otherwise;
// a seat without an enrollment gets a record when the student exists and is released otherwise.
func (s *EnrollmentService) Reconcile() (report ReconcileReport, err error) {
	log := s.operationLogger("reconcile", "", "")
	defer func() { s.record("reconcile", log, err) }()

	guard, err := lock.Acquire(&s.mu, s.timeout)
	if err != nil {
		return report, err
	}
	defer guard.Release()

	records, err := s.enrollments.FindEnrollments(nil)
	if err != nil {
		return report, err
	}
	for _, e := range records {
		keep, err := s.studentExists(e.StudentID)
		if err != nil {
			return report, err
		}
		course, err := s.courses.GetCourse(e.CourseID)
		switch {
		case errors.Is(err, appErrors.ErrDataNotFound):
			keep = false
		case err != nil:
			return report, err
		case keep && !course.HasStudent(e.StudentID):
			if aerr := s.courses.AddStudentToCourse(e.CourseID, e.StudentID); aerr == nil {
				report.MembershipsAdded++
			} else if errors.Is(aerr, appErrors.ErrCourseFull) {
				keep = false
			} else {
				return report, aerr
			}
		}
		if !keep {
			if err := s.enrollments.RemoveEnrollment(e.StudentID, e.CourseID); err != nil {
				return report, err
			}
			report.EnrollmentsRemoved++
		}
	}

	courseIDs, err := s.courses.FindCourses(nil)
	if err != nil {
		return report, err
	}
	for _, courseID := range courseIDs {
		course, err := s.courses.GetCourse(courseID)
		if err != nil {
			return report, err
		}
		for _, studentID := range course.StudentIDs() {
			enrolled, err := s.enrollments.IsEnrolled(studentID, courseID)
			if err != nil {
				return report, err
			}
			if enrolled {
				continue
			}
			exists, err := s.studentExists(studentID)
			if err != nil {
				return report, err
			}
			if exists {
				if err := s.enrollments.AddEnrollment(models.NewEnrollment(studentID, courseID, s.now())); err != nil {
					return report, err
				}
				report.EnrollmentsCreated++
				continue
			}
			if _, err := s.courses.RemoveStudentFromCourse(courseID, studentID); err != nil {
				return report, err
			}
			report.MembershipsRemoved++
		}
	}

	log.Info("reconcile finished",
		zap.Int("memberships_added", report.MembershipsAdded),
		zap.Int("memberships_removed", report.MembershipsRemoved),
		zap.Int("enrollments_created", report.EnrollmentsCreated),
		zap.Int("enrollments_removed", report.EnrollmentsRemoved))
	return report, nil
}

func (s *EnrollmentService) studentExists(id string) (bool, error) {
	if _, err := s.users.GetStudent(id); err != nil {
		if errors.Is(err, appErrors.ErrDataNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *EnrollmentService) operationLogger(op, studentID, courseID string) *zap.Logger {
	fields := []zap.Field{zap.String("op", op), zap.String("op_id", uuid.NewString())}
	if studentID != "" {
		fields = append(fields, zap.String("student_id", studentID))
	}
	if courseID != "" {
		fields = append(fields, zap.String("course_id", courseID))
	}
	return s.logger.With(fields...)
}

func (s *EnrollmentService) record(op string, log *zap.Logger, err error) {
	if s.recorder != nil {
		s.recorder.RecordEnrollmentOperation(op, err)
	}
	if err != nil {
		log.Info(op+" failed", zap.String("code", strings.ToLower(appErrors.Code(err))), zap.Error(err))
		return
	}
	log.Info(op + " succeeded")
}
