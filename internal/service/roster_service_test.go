package service

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
	"github.com/noah-isme/course-registry/pkg/export"
)

func TestRosterBuild(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1", "s2")
	r.addCourse(t, "CS101", 3)
	svc := r.service(nil)
	for _, id := range []string{"s2", "s1"} {
		_, err := svc.EnrollCourse(id, "CS101")
		require.NoError(t, err)
	}
	// a record whose account is gone still appears by id
	require.NoError(t, r.enrollments.AddEnrollment(models.NewEnrollment("s9", "CS101", fixedTime())))

	roster := NewRosterService(r.courses, r.users, r.enrollments, r.store, "", zap.NewNop())
	data, err := roster.Build("CS101")
	require.NoError(t, err)

	assert.Equal(t, "CS101 Course CS101", data.Title)
	assert.Contains(t, data.Notes, "Enrolled: 2/3")
	assert.Equal(t, RosterHeaders, data.Headers)
	require.Len(t, data.Rows, 3)
	assert.Equal(t, []string{"s1", "Student s1", "CS", "CS-1", "2024-09-02 09:00:00"}, data.Rows[0])
	assert.Equal(t, "s2", data.Rows[1][0])
	assert.Equal(t, []string{"s9", "", "", "", "2024-09-02 09:00:00"}, data.Rows[2])

	_, err = roster.Build("CS404")
	assert.True(t, errors.Is(err, appErrors.ErrDataNotFound))
}

func TestRosterExportCSV(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	r.addCourse(t, "CS101", 3)
	_, err := r.service(nil).EnrollCourse("s1", "CS101")
	require.NoError(t, err)

	roster := NewRosterService(r.courses, r.users, r.enrollments, r.store, "out", zap.NewNop())
	path, err := roster.Export("CS101", export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.store.Root(), "out", "roster_CS101.csv"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(content))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, RosterHeaders, rows[0])
	assert.Equal(t, "s1", rows[1][0])
}

func TestRosterExportPDF(t *testing.T) {
	r := newRegistry(t)
	r.addCourse(t, "CS101", 3)

	roster := NewRosterService(r.courses, r.users, r.enrollments, r.store, "", zap.NewNop())
	path, err := roster.Export("CS101", export.FormatPDF)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "%PDF"))
}

func TestRosterExportRejectsUnknownFormat(t *testing.T) {
	r := newRegistry(t)
	r.addCourse(t, "CS101", 3)

	roster := NewRosterService(r.courses, r.users, r.enrollments, r.store, "", zap.NewNop(), export.NewCSVExporter())
	_, err := roster.Export("CS101", export.FormatPDF)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidInput))
}

func TestRosterExportAll(t *testing.T) {
	r := newRegistry(t)
	r.addStudents(t, "s1")
	for _, id := range []string{"CS101", "CS102", "CS103"} {
		r.addCourse(t, id, 3)
	}
	_, err := r.service(nil).EnrollCourse("s1", "CS102")
	require.NoError(t, err)

	roster := NewRosterService(r.courses, r.users, r.enrollments, r.store, "", zap.NewNop())
	paths, err := roster.ExportAll(export.FormatCSV, 2)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for id, p := range paths {
		assert.Equal(t, filepath.Join(r.store.Root(), "exports", "roster_"+id+".csv"), p)
		assert.FileExists(t, p)
	}
}

type missingCourses struct {
	rosterCourses
}

func (m missingCourses) GetAllCourseIDs() ([]string, error) {
	ids, err := m.rosterCourses.GetAllCourseIDs()
	return append(ids, "GONE"), err
}

func TestRosterExportAllReportsFailures(t *testing.T) {
	r := newRegistry(t)
	r.addCourse(t, "CS101", 3)

	roster := NewRosterService(missingCourses{r.courses}, r.users, r.enrollments, r.store, "", zap.NewNop())
	paths, err := roster.ExportAll(export.FormatCSV, 2)
	assert.True(t, errors.Is(err, appErrors.ErrDataNotFound))
	assert.Contains(t, paths, "CS101")
	assert.NotContains(t, paths, "GONE")
}
