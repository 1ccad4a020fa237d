package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registry/internal/models"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
)

var fixedNow = time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)

func TestEnrollmentManagerAddAndQuery(t *testing.T) {
	m := NewEnrollmentManager(newTestStore(t), testOptions())

	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s1", "CS101", fixedNow)))
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s2", "CS101", fixedNow)))
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s1", "CS102", fixedNow)))
	err := m.AddEnrollment(models.NewEnrollment("s1", "CS101", fixedNow))
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyEnrolled))

	ok, err := m.IsEnrolled("s1", "CS101")
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := m.GetEnrollment("s2", "CS101")
	require.NoError(t, err)
	assert.Equal(t, "2024-09-02 10:00:00", e.EnrollmentTime)

	_, err = m.GetEnrollment("s3", "CS101")
	assert.True(t, errors.Is(err, appErrors.ErrNotEnrolled))

	list, err := m.GetStudentEnrollments("s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "CS101", list[0].CourseID)
	assert.Equal(t, "CS102", list[1].CourseID)

	list, err = m.GetCourseEnrollments("CS101")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].StudentID)
}

func TestEnrollmentManagerKeysDoNotCollide(t *testing.T) {
	m := NewEnrollmentManager(newTestStore(t), testOptions())

	// "a:b"+"c" and "a"+"b:c" would share a colon-joined key
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("a:b", "c", fixedNow)))
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("a", "b:c", fixedNow)))
	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEnrollmentManagerRemoveIsIdempotent(t *testing.T) {
	m := NewEnrollmentManager(newTestStore(t), testOptions())
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s1", "CS101", fixedNow)))

	require.NoError(t, m.RemoveEnrollment("s1", "CS101"))
	require.NoError(t, m.RemoveEnrollment("s1", "CS101"))

	existed, err := m.DeleteEnrollment("s1", "CS101")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestEnrollmentManagerCascadeRemoval(t *testing.T) {
	m := NewEnrollmentManager(newTestStore(t), testOptions())
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s1", "CS101", fixedNow)))
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s1", "CS102", fixedNow)))
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s2", "CS101", fixedNow)))

	courses, err := m.RemoveStudentEnrollments("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"CS101", "CS102"}, courses)

	students, err := m.RemoveCourseEnrollments("CS101")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, students)

	n, err := m.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnrollmentManagerRoundTripKeepsTimes(t *testing.T) {
	store := newTestStore(t)
	m := NewEnrollmentManager(store, testOptions())
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s1", "CS101", fixedNow)))
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s2", "CS101", fixedNow.Add(time.Hour))))

	content, err := store.Read(EnrollmentsFile)
	require.NoError(t, err)
	assert.Contains(t, content, `"enrollmentTime": "2024-09-02 11:00:00"`)

	reloaded := NewEnrollmentManager(store, testOptions())
	require.NoError(t, reloaded.LoadData())
	want, err := m.FindEnrollments(nil)
	require.NoError(t, err)
	got, err := reloaded.FindEnrollments(nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEnrollmentManagerRollsBackOnFailedSave(t *testing.T) {
	store := newFlakyStore(t)
	m := NewEnrollmentManager(store, testOptions())
	require.NoError(t, m.AddEnrollment(models.NewEnrollment("s1", "CS101", fixedNow)))

	store.setFail(true)
	assert.Error(t, m.AddEnrollment(models.NewEnrollment("s2", "CS101", fixedNow)))
	assert.Error(t, m.RemoveEnrollment("s1", "CS101"))
	store.setFail(false)

	ok, err := m.IsEnrolled("s2", "CS101")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.IsEnrolled("s1", "CS101")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnrollmentManagerLockTimeout(t *testing.T) {
	m := NewEnrollmentManager(newTestStore(t), shortTimeoutOptions())

	m.mu.Lock()
	_, err := m.IsEnrolled("s1", "CS101")
	m.mu.Unlock()
	assert.True(t, errors.Is(err, appErrors.ErrLockTimeout))
}
