package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	"github.com/noah-isme/course-registry/internal/repository"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
	"github.com/noah-isme/course-registry/pkg/password"
	"github.com/noah-isme/course-registry/pkg/storage"
)

type registry struct {
	store       *storage.JSONStore
	hasher      *password.Hasher
	users       *repository.UserManager
	courses     *repository.CourseManager
	enrollments *repository.EnrollmentManager
	metrics     *MetricsService
}

func newRegistry(t *testing.T) *registry {
	t.Helper()
	store, err := storage.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	metrics := NewMetricsService()
	opts := repository.Options{LockTimeout: 5 * time.Second, Logger: zap.NewNop(), Observer: metrics}
	hasher := password.New()
	return &registry{
		store:       store,
		hasher:      hasher,
		users:       repository.NewUserManager(store, hasher, opts),
		courses:     repository.NewCourseManager(store, opts),
		enrollments: repository.NewEnrollmentManager(store, opts),
		metrics:     metrics,
	}
}

func (r *registry) service(courses courseCatalog) *EnrollmentService {
	if courses == nil {
		courses = r.courses
	}
	return NewEnrollmentService(r.users, courses, r.enrollments, r.metrics, zap.NewNop(), EnrollmentConfig{LockTimeout: 5 * time.Second, Now: fixedTime})
}

func fixedTime() time.Time {
	return time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
}

func (r *registry) addStudents(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		u, err := models.NewStudent(r.hasher, id, "Student "+id, "pw", models.StudentProfile{Department: "CS", ClassInfo: "CS-1"})
		require.NoError(t, err)
		require.NoError(t, r.users.AddStudent(u))
	}
}

func (r *registry) addCourse(t *testing.T, id string, capacity int) {
	t.Helper()
	require.NoError(t, r.courses.AddCourse(models.NewCourse(id, "Course "+id, models.CourseRequired, 3, 48, "2024-1", "t1", capacity)))
}

func (r *registry) enrolledCount(t *testing.T, courseID string) int {
	t.Helper()
	course, err := r.courses.GetCourse(courseID)
	require.NoError(t, err)
	return course.EnrolledCount()
}

// failingCatalog wraps a course catalog and fails membership changes on demand.
type failingCatalog struct {
	courseCatalog
	failAdd    error
	failRemove error
}

func (f *failingCatalog) AddStudentToCourse(courseID, studentID string) error {
	if f.failAdd != nil {
		return f.failAdd
	}
	return f.courseCatalog.AddStudentToCourse(courseID, studentID)
}

func (f *failingCatalog) RemoveStudentFromCourse(courseID, studentID string) (bool, error) {
	if f.failRemove != nil {
		return false, f.failRemove
	}
	return f.courseCatalog.RemoveStudentFromCourse(courseID, studentID)
}

func TestEnrollDropScenario(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1", "s2", "s3")
	r.addCourse(t, "CS101", 2)
	svc := r.service(nil)

	e, err := svc.EnrollCourse("s1", "CS101")
	require.NoError(t, err)
	assert.Equal(t, "2024-09-02 09:00:00", e.EnrollmentTime)
	assert.Equal(t, 1, r.enrolledCount(t, "CS101"))

	_, err = svc.EnrollCourse("s2", "CS101")
	require.NoError(t, err)
	course, err := r.courses.GetCourse("CS101")
	require.NoError(t, err)
	assert.Equal(t, 2, course.EnrolledCount())
	assert.True(t, course.IsFull())

	_, err = svc.EnrollCourse("s3", "CS101")
	assert.True(t, errors.Is(err, appErrors.ErrCourseFull))

	require.NoError(t, svc.DropCourse("s1", "CS101"))
	course, err = r.courses.GetCourse("CS101")
	require.NoError(t, err)
	assert.Equal(t, 1, course.EnrolledCount())
	assert.False(t, course.IsFull())

	_, err = svc.EnrollCourse("s3", "CS101")
	require.NoError(t, err)

	ok, err := svc.IsEnrolled("s1", "CS101")
	require.NoError(t, err)
	assert.False(t, ok)
	list, err := svc.GetCourseEnrollments("CS101")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].StudentID)
	assert.Equal(t, "s3", list[1].StudentID)
}

func TestEnrollPersistsBothCollections(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 2)
	_, err := r.service(nil).EnrollCourse("s1", "CS101")
	require.NoError(t, err)

	courses := repository.NewCourseManager(r.store, repository.Options{})
	require.NoError(t, courses.LoadData())
	course, err := courses.GetCourse("CS101")
	require.NoError(t, err)
	assert.True(t, course.HasStudent("s1"))

	enrollments := repository.NewEnrollmentManager(r.store, repository.Options{})
	require.NoError(t, enrollments.LoadData())
	ok, err := enrollments.IsEnrolled("s1", "CS101")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnrollValidation(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 2)
	teacher, err := models.NewTeacher(r.hasher, "t1", "Teacher", "pw", models.TeacherProfile{})
	require.NoError(t, err)
	require.NoError(t, r.users.AddTeacher(teacher))
	svc := r.service(nil)

	_, err = svc.EnrollCourse("ghost", "CS101")
	assert.True(t, errors.Is(err, appErrors.ErrDataNotFound))
	_, err = svc.EnrollCourse("t1", "CS101")
	assert.True(t, errors.Is(err, appErrors.ErrDataNotFound))
	_, err = svc.EnrollCourse("s1", "CS404")
	assert.True(t, errors.Is(err, appErrors.ErrDataNotFound))

	_, err = svc.EnrollCourse("s1", "CS101")
	require.NoError(t, err)
	_, err = svc.EnrollCourse("s1", "CS101")
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyEnrolled))

	err = svc.DropCourse("s1", "CS404")
	assert.True(t, errors.Is(err, appErrors.ErrNotEnrolled))
}

func TestConcurrentEnrollRespectsCapacity(t *testing.T) {
	const capacity = 4
	r := newRegistry(t)
	r.addCourse(t, "CS101", capacity)
	ids := make([]string, capacity+3)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%02d", i)
	}
	r.addStudents(t, ids...)
	svc := r.service(nil)

	var wg sync.WaitGroup
	results := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = svc.EnrollCourse(id, "CS101")
		}(i, id)
	}
	wg.Wait()

	succeeded, full := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, appErrors.ErrCourseFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, len(ids)-capacity, full)
	assert.Equal(t, capacity, r.enrolledCount(t, "CS101"))
	n, err := r.enrollments.Count()
	require.NoError(t, err)
	assert.Equal(t, capacity, n)
}

func TestConcurrentEnrollSamePair(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 10)
	svc := r.service(nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.EnrollCourse("s1", "CS101")
		}(i)
	}
	wg.Wait()

	okCount, dupCount := 0, 0
	for _, err := range results {
		if err == nil {
			okCount++
		} else if errors.Is(err, appErrors.ErrAlreadyEnrolled) {
			dupCount++
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, dupCount)
	n, err := r.enrollments.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnrollCompensatesWhenMembershipFails(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 2)
	catalog := &failingCatalog{courseCatalog: r.courses, failAdd: appErrors.Clone(appErrors.ErrLockTimeout, "")}
	svc := r.service(catalog)

	_, err := svc.EnrollCourse("s1", "CS101")
	assert.True(t, errors.Is(err, appErrors.ErrLockTimeout))

	ok, err := r.enrollments.IsEnrolled("s1", "CS101")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, r.enrolledCount(t, "CS101"))
}

func TestDropCompensatesWhenMembershipFails(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 2)
	catalog := &failingCatalog{courseCatalog: r.courses}
	svc := r.service(catalog)
	original, err := svc.EnrollCourse("s1", "CS101")
	require.NoError(t, err)

	catalog.failRemove = appErrors.Clone(appErrors.ErrLockTimeout, "")
	err = svc.DropCourse("s1", "CS101")
	assert.True(t, errors.Is(err, appErrors.ErrLockTimeout))

	restored, err := r.enrollments.GetEnrollment("s1", "CS101")
	require.NoError(t, err)
	assert.Equal(t, original.EnrollmentTime, restored.EnrollmentTime)
	assert.Equal(t, 1, r.enrolledCount(t, "CS101"))
}

func TestRemoveUserReleasesSeats(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1", "s2")
	r.addCourse(t, "CS101", 2)
	r.addCourse(t, "CS102", 2)
	svc := r.service(nil)
	for _, c := range []string{"CS101", "CS102"} {
		_, err := svc.EnrollCourse("s1", c)
		require.NoError(t, err)
	}
	_, err := svc.EnrollCourse("s2", "CS101")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveUser("s1"))
	assert.True(t, errors.Is(svc.RemoveUser("s1"), appErrors.ErrDataNotFound))

	ids, err := r.courses.GetStudentEnrolledCourseIDs("s1")
	require.NoError(t, err)
	assert.Empty(t, ids)
	list, err := svc.GetStudentEnrollments("s1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 1, r.enrolledCount(t, "CS101"))
}

func TestRemoveCourseDropsEnrollments(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 2)
	svc := r.service(nil)
	_, err := svc.EnrollCourse("s1", "CS101")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveCourse("CS101"))
	list, err := svc.FindEnrollments(nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.True(t, errors.Is(svc.RemoveCourse("CS101"), appErrors.ErrDataNotFound))
}

func TestReconcileRepairsDrift(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1", "s2", "s3")
	r.addCourse(t, "CS101", 1)
	r.addCourse(t, "CS102", 5)
	now := time.Now()

	// enrollment without seat, capacity available
	require.NoError(t, r.enrollments.AddEnrollment(models.NewEnrollment("s1", "CS102", now)))
	// seat without enrollment
	require.NoError(t, r.courses.AddStudentToCourse("CS101", "s2"))
	// enrollment without seat, course full
	require.NoError(t, r.enrollments.AddEnrollment(models.NewEnrollment("s3", "CS101", now)))
	// seat held by an unknown student
	require.NoError(t, r.courses.AddStudentToCourse("CS102", "ghost"))
	// enrollment on a missing course
	require.NoError(t, r.enrollments.AddEnrollment(models.NewEnrollment("s1", "CS999", now)))

	report, err := r.service(nil).Reconcile()
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{MembershipsAdded: 1, MembershipsRemoved: 1, EnrollmentsCreated: 1, EnrollmentsRemoved: 2}, report)
	assert.Equal(t, 5, report.Total())

	course, err := r.courses.GetCourse("CS102")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, course.StudentIDs())
	ok, err := r.enrollments.IsEnrolled("s2", "CS101")
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := r.service(nil).Reconcile()
	require.NoError(t, err)
	assert.Zero(t, again.Total())
}

func TestWorkflowLockTimeout(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 2)
	svc := NewEnrollmentService(r.users, r.courses, r.enrollments, r.metrics, zap.NewNop(), EnrollmentConfig{LockTimeout: 30 * time.Millisecond})

	svc.mu.Lock()
	_, err := svc.EnrollCourse("s1", "CS101")
	svc.mu.Unlock()
	assert.True(t, errors.Is(err, appErrors.ErrLockTimeout))

	snap := r.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Operations["enroll:lock_timeout"])
}

func TestManagerLockTimeoutSurfacesThroughWorkflow(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 2)
	short := repository.Options{LockTimeout: 30 * time.Millisecond, Logger: zap.NewNop()}
	courses := repository.NewCourseManager(r.store, short)
	require.NoError(t, courses.LoadData())
	svc := r.service(courses)

	hold := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = courses.FindCourses(func(*models.Course) bool {
			close(hold)
			<-release
			return false
		})
	}()
	<-hold
	_, err := svc.EnrollCourse("s1", "CS101")
	close(release)
	assert.True(t, errors.Is(err, appErrors.ErrLockTimeout))
}
