// Package main is the entry point for the coursectl command.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	"github.com/noah-isme/course-registry/internal/repository"
	"github.com/noah-isme/course-registry/internal/service"
	"github.com/noah-isme/course-registry/pkg/config"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
	"github.com/noah-isme/course-registry/pkg/export"
	"github.com/noah-isme/course-registry/pkg/logger"
	"github.com/noah-isme/course-registry/pkg/password"
	"github.com/noah-isme/course-registry/pkg/storage"
)

type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	hasher      *password.Hasher
	users       *repository.UserManager
	courses     *repository.CourseManager
	enrollments *repository.EnrollmentManager
	metrics     *service.MetricsService
	workflow    *service.EnrollmentService
	rosters     *service.RosterService
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if cmd := os.Args[1]; cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	a, err := newApp(cfg, logr)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("data_dir", cfg.Store.DataDir), zap.Error(err))
	}

	if err := a.run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newApp(cfg *config.Config, logr *zap.Logger) (*app, error) {
	store, err := storage.NewJSONStore(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	var bootstrapIDs []string
	if cfg.Bootstrap.Enabled {
		bootstrapIDs = cfg.Bootstrap.AccountIDs
		logr.Warn("bootstrap accounts enabled: listed ids are hashed without salt", zap.Strings("ids", bootstrapIDs))
	}
	hasher := password.New(bootstrapIDs...)
	metrics := service.NewMetricsService()

	opts := repository.Options{
		LockTimeout: cfg.Store.LockTimeout,
		Logger:      logr,
		Observer:    metrics,
	}
	a := &app{
		cfg:         cfg,
		logger:      logr,
		hasher:      hasher,
		users:       repository.NewUserManager(store, hasher, opts),
		courses:     repository.NewCourseManager(store, opts),
		enrollments: repository.NewEnrollmentManager(store, opts),
		metrics:     metrics,
	}
	if err := a.users.LoadData(); err != nil {
		return nil, err
	}
	if err := a.courses.LoadData(); err != nil {
		return nil, err
	}
	if err := a.enrollments.LoadData(); err != nil {
		return nil, err
	}

	a.workflow = service.NewEnrollmentService(a.users, a.courses, a.enrollments, metrics, logr,
		service.EnrollmentConfig{LockTimeout: cfg.Store.LockTimeout})
	a.rosters = service.NewRosterService(a.courses, a.users, a.enrollments, store, cfg.Export.Dir, logr)
	return a, nil
}

func (a *app) run(cmd string, args []string) error {
	switch cmd {
	case "seed":
		if len(args) != 1 {
			return usageError("seed <password>")
		}
		return a.seed(args[0])

	case "add-student":
		if len(args) < 3 || len(args) > 5 {
			return usageError("add-student <id> <name> <password> [department] [class]")
		}
		profile := models.StudentProfile{Department: optional(args, 3), ClassInfo: optional(args, 4)}
		user, err := models.NewStudent(a.hasher, args[0], args[1], args[2], profile)
		if err != nil {
			return err
		}
		if err := a.users.AddStudent(user); err != nil {
			return err
		}
		fmt.Printf("Student '%s' added.\n", user.ID)

	case "add-teacher":
		if len(args) < 3 || len(args) > 5 {
			return usageError("add-teacher <id> <name> <password> [department] [title]")
		}
		profile := models.TeacherProfile{Department: optional(args, 3), Title: optional(args, 4)}
		user, err := models.NewTeacher(a.hasher, args[0], args[1], args[2], profile)
		if err != nil {
			return err
		}
		if err := a.users.AddTeacher(user); err != nil {
			return err
		}
		fmt.Printf("Teacher '%s' added.\n", user.ID)

	case "add-course":
		if len(args) != 8 {
			return usageError("add-course <id> <name> <REQUIRED|ELECTIVE|RESTRICTED> <credit> <hours> <semester> <teacher-id> <capacity>")
		}
		course, err := parseCourse(args)
		if err != nil {
			return err
		}
		if _, err := a.users.GetTeacher(course.TeacherID); err != nil {
			return err
		}
		if err := a.courses.AddCourse(course); err != nil {
			return err
		}
		fmt.Printf("Course '%s' added (capacity %d).\n", course.ID, course.MaxCapacity)

	case "remove-user":
		if len(args) != 1 {
			return usageError("remove-user <id>")
		}
		if err := a.workflow.RemoveUser(args[0]); err != nil {
			return err
		}
		fmt.Printf("User '%s' removed.\n", args[0])

	case "remove-course":
		if len(args) != 1 {
			return usageError("remove-course <id>")
		}
		if err := a.workflow.RemoveCourse(args[0]); err != nil {
			return err
		}
		fmt.Printf("Course '%s' removed.\n", args[0])

	case "enroll":
		if len(args) != 2 {
			return usageError("enroll <student-id> <course-id>")
		}
		e, err := a.workflow.EnrollCourse(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Student '%s' enrolled in '%s' at %s.\n", e.StudentID, e.CourseID, e.EnrollmentTime)

	case "drop":
		if len(args) != 2 {
			return usageError("drop <student-id> <course-id>")
		}
		if err := a.workflow.DropCourse(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Student '%s' dropped '%s'.\n", args[0], args[1])

	case "login":
		if len(args) != 2 {
			return usageError("login <id> <password>")
		}
		user, err := a.users.Authenticate(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Welcome %s (%s).\n", user.Name, user.Role)

	case "passwd":
		if len(args) != 3 {
			return usageError("passwd <id> <old-password> <new-password>")
		}
		if err := a.users.ChangeUserPassword(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("Password changed.")

	case "courses":
		return a.listCourses()

	case "roster":
		if len(args) < 1 || len(args) > 2 {
			return usageError("roster <course-id> [csv|pdf]")
		}
		format := export.FormatCSV
		if len(args) == 2 {
			format = export.Format(args[1])
		}
		path, err := a.rosters.Export(args[0], format)
		if err != nil {
			return err
		}
		fmt.Printf("Roster written to %s\n", path)

	case "roster-all":
		if len(args) > 1 {
			return usageError("roster-all [csv|pdf]")
		}
		format := export.FormatCSV
		if len(args) == 1 {
			format = export.Format(args[0])
		}
		paths, err := a.rosters.ExportAll(format, a.cfg.Export.Workers)
		for _, id := range sortedKeys(paths) {
			fmt.Printf("%-10s %s\n", id, paths[id])
		}
		if err != nil {
			return err
		}

	case "reconcile":
		report, err := a.workflow.Reconcile()
		if err != nil {
			return err
		}
		return printJSON(report)

	case "stats":
		return printJSON(a.metrics.Snapshot())

	default:
		printUsage()
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
	return nil
}

// seed creates one admin, teacher and student from the configured bootstrap ids, in that order.
func (a *app) seed(plaintext string) error {
	if !a.cfg.Bootstrap.Enabled {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "bootstrap accounts are disabled; set BOOTSTRAP_ACCOUNTS_ENABLED=true")
	}
	ids := a.cfg.Bootstrap.AccountIDs
	if len(ids) < 3 {
		return appErrors.Clone(appErrors.ErrInvalidInput, "BOOTSTRAP_ACCOUNT_IDS needs an admin, a teacher and a student id")
	}

	admin, err := models.NewAdmin(a.hasher, ids[0], "Administrator", plaintext)
	if err != nil {
		return err
	}
	teacher, err := models.NewTeacher(a.hasher, ids[1], "Demo Teacher", plaintext, models.TeacherProfile{})
	if err != nil {
		return err
	}
	student, err := models.NewStudent(a.hasher, ids[2], "Demo Student", plaintext, models.StudentProfile{})
	if err != nil {
		return err
	}

	for _, step := range []struct {
		add  func(*models.User) error
		user *models.User
	}{
		{a.users.AddAdmin, admin},
		{a.users.AddTeacher, teacher},
		{a.users.AddStudent, student},
	} {
		if err := step.add(step.user); err != nil {
			if errors.Is(err, appErrors.ErrDataAlreadyExists) {
				fmt.Printf("Account '%s' already exists, skipped.\n", step.user.ID)
				continue
			}
			return err
		}
		fmt.Printf("Account '%s' (%s) created.\n", step.user.ID, step.user.Role)
	}
	return nil
}

func (a *app) listCourses() error {
	ids, err := a.courses.GetAllCourseIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No courses.")
		return nil
	}
	fmt.Printf("%-10s %-30s %-10s %-8s %s\n", "ID", "NAME", "TYPE", "SEATS", "TEACHER")
	for _, id := range ids {
		c, err := a.courses.GetCourse(id)
		if err != nil {
			return err
		}
		seats := fmt.Sprintf("%d/%d", c.EnrolledCount(), c.MaxCapacity)
		fmt.Printf("%-10s %-30s %-10s %-8s %s\n", c.ID, c.Name, c.Type, seats, c.TeacherID)
	}
	return nil
}

func parseCourse(args []string) (*models.Course, error) {
	courseType, ok := models.ParseCourseType(args[2])
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, fmt.Sprintf("unknown course type %q", args[2]))
	}
	credit, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return nil, appErrors.Wrapf(err, appErrors.ErrInvalidInput, "invalid credit %q", args[3])
	}
	hours, err := strconv.Atoi(args[4])
	if err != nil {
		return nil, appErrors.Wrapf(err, appErrors.ErrInvalidInput, "invalid hours %q", args[4])
	}
	capacity, err := strconv.Atoi(args[7])
	if err != nil {
		return nil, appErrors.Wrapf(err, appErrors.ErrInvalidInput, "invalid capacity %q", args[7])
	}
	return models.NewCourse(args[0], args[1], courseType, credit, hours, args[5], args[6], capacity), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(usage string) error {
	return appErrors.Clone(appErrors.ErrInvalidInput, "usage: coursectl "+usage)
}

// exitCode maps error families onto distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, appErrors.ErrInvalidInput):
		return 2
	case errors.Is(err, appErrors.ErrAuthenticationFailed), errors.Is(err, appErrors.ErrPermissionDenied):
		return 3
	case errors.Is(err, appErrors.ErrLockTimeout), errors.Is(err, appErrors.ErrLockFailure):
		return 4
	default:
		return 1
	}
}

func printUsage() {
	fmt.Println("Usage: coursectl <command> [args]")
	fmt.Println()
	fmt.Println("Accounts:")
	fmt.Println("  seed <password>                         create bootstrap accounts (requires BOOTSTRAP_ACCOUNTS_ENABLED)")
	fmt.Println("  add-student <id> <name> <pw> [dept] [class]")
	fmt.Println("  add-teacher <id> <name> <pw> [dept] [title]")
	fmt.Println("  remove-user <id>")
	fmt.Println("  login <id> <password>")
	fmt.Println("  passwd <id> <old> <new>")
	fmt.Println()
	fmt.Println("Courses:")
	fmt.Println("  add-course <id> <name> <type> <credit> <hours> <semester> <teacher-id> <capacity>")
	fmt.Println("  remove-course <id>")
	fmt.Println("  courses")
	fmt.Println("  roster <course-id> [csv|pdf]")
	fmt.Println("  roster-all [csv|pdf]                    export every course roster")
	fmt.Println()
	fmt.Println("Enrollment:")
	fmt.Println("  enroll <student-id> <course-id>")
	fmt.Println("  drop <student-id> <course-id>")
	fmt.Println("  reconcile")
	fmt.Println()
	fmt.Println("  stats                                   lock, save and workflow metrics for this run")
	fmt.Println("  help")
}
