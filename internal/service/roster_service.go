package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
	"github.com/noah-isme/course-registry/pkg/export"
	"github.com/noah-isme/course-registry/pkg/jobs"
)

type rosterCourses interface {
	GetCourse(id string) (*models.Course, error)
	GetAllCourseIDs() ([]string, error)
}

type rosterUsers interface {
	GetUser(id string) (*models.User, error)
}

type rosterEnrollments interface {
	GetCourseEnrollments(courseID string) ([]*models.Enrollment, error)
}

type fileWriter interface {
	WriteBytes(name string, data []byte) error
	Path(name string) string
}

// RosterHeaders are the columns of a course roster.
var RosterHeaders = []string{"student_id", "name", "department", "class", "enrolled_at"}

// RosterService renders course rosters and writes them under the export directory.
type RosterService struct {
	courses     rosterCourses
	users       rosterUsers
	enrollments rosterEnrollments
	files       fileWriter
	dir         string
	renderers   map[export.Format]export.Renderer
	logger      *zap.Logger
}

// NewRosterService constructs RosterService. dir is relative to the store root.
func NewRosterService(courses rosterCourses, users rosterUsers, enrollments rosterEnrollments, files fileWriter, dir string, logger *zap.Logger, renderers ...export.Renderer) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "exports"
	}
	if len(renderers) == 0 {
		renderers = []export.Renderer{export.NewCSVExporter(), export.NewPDFExporter()}
	}
	byFormat := make(map[export.Format]export.Renderer, len(renderers))
	for _, r := range renderers {
		byFormat[export.Format(r.Extension())] = r
	}
	return &RosterService{
		courses:     courses,
		users:       users,
		enrollments: enrollments,
		files:       files,
		dir:         dir,
		renderers:   byFormat,
		logger:      logger.Named("roster"),
	}
}

// Build assembles the roster dataset of a course. Students whose account is gone are listed by id only.
func (s *RosterService) Build(courseID string) (export.Dataset, error) {
	course, err := s.courses.GetCourse(courseID)
	if err != nil {
		return export.Dataset{}, err
	}
	records, err := s.enrollments.GetCourseEnrollments(courseID)
	if err != nil {
		return export.Dataset{}, err
	}

	rows := make([][]string, 0, len(records))
	for _, e := range records {
		row := []string{e.StudentID, "", "", "", e.EnrollmentTime}
		user, err := s.users.GetUser(e.StudentID)
		switch {
		case err == nil:
			row[1] = user.Name
			if user.Student != nil {
				row[2] = user.Student.Department
				row[3] = user.Student.ClassInfo
			}
		case errors.Is(err, appErrors.ErrDataNotFound):
			s.logger.Warn("roster entry without account", zap.String("course_id", courseID), zap.String("student_id", e.StudentID))
		default:
			return export.Dataset{}, err
		}
		rows = append(rows, row)
	}

	return export.Dataset{
		Title: fmt.Sprintf("%s %s", course.ID, course.Name),
		Notes: []string{
			"Type: " + string(course.Type),
			"Semester: " + course.Semester,
			"Teacher: " + course.TeacherID,
			"Enrolled: " + strconv.Itoa(course.EnrolledCount()) + "/" + strconv.Itoa(course.MaxCapacity),
		},
		Headers: RosterHeaders,
		Rows:    rows,
	}, nil
}

// Export renders the roster in format and writes it atomically. It returns the written path.
func (s *RosterService) Export(courseID string, format export.Format) (string, error) {
	renderer, ok := s.renderers[format]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrInvalidInput, fmt.Sprintf("unsupported export format %q", format))
	}
	data, err := s.Build(courseID)
	if err != nil {
		return "", err
	}
	content, err := renderer.Render(data)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrOperationFailed.Code, "failed to render roster")
	}

	name := path.Join(s.dir, fmt.Sprintf("roster_%s.%s", courseID, renderer.Extension()))
	if err := s.files.WriteBytes(name, content); err != nil {
		return "", err
	}
	s.logger.Info("roster exported", zap.String("course_id", courseID), zap.String("format", string(format)), zap.Int("rows", len(data.Rows)))
	return s.files.Path(name), nil
}

// ExportAll exports the roster of every course on a pool of workers and returns the written path per course.
// Lock timeouts are retried; the first permanent failure is returned after the batch settles.
func (s *RosterService) ExportAll(format export.Format, workers int) (map[string]string, error) {
	if _, ok := s.renderers[format]; !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, fmt.Sprintf("unsupported export format %q", format))
	}
	ids, err := s.courses.GetAllCourseIDs()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	paths := make(map[string]string, len(ids))
	queue := jobs.NewQueue("roster_export", func(_ context.Context, job jobs.Job) error {
		p, err := s.Export(job.Payload, format)
		if err != nil {
			return err
		}
		mu.Lock()
		paths[job.Payload] = p
		mu.Unlock()
		return nil
	}, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: len(ids),
		MaxRetries: 2,
		RetryDelay: 50 * time.Millisecond,
		Retryable:  func(err error) bool { return errors.Is(err, appErrors.ErrLockTimeout) },
		Logger:     s.logger,
	})
	queue.Start(context.Background())
	defer queue.Stop()

	for _, id := range ids {
		if err := queue.Enqueue(jobs.Job{ID: id, Type: string(format), Payload: id}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrOperationFailed.Code, "failed to queue roster export")
		}
	}
	failures := queue.Wait()

	mu.Lock()
	defer mu.Unlock()
	s.logger.Info("rosters exported", zap.Int("courses", len(ids)), zap.Int("written", len(paths)), zap.Int("failed", len(failures)))
	if len(failures) > 0 {
		return paths, appErrors.Wrapf(failures[0].Err, appErrors.FromError(failures[0].Err),
			"%d of %d roster exports failed, first %s", len(failures), len(ids), failures[0].Job.ID)
	}
	return paths, nil
}
