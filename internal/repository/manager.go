package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/course-registry/pkg/errors"
	"github.com/noah-isme/course-registry/pkg/lock"
)

// Persisted document names, relative to the store root.
const (
	UsersFile       = "users.json"
	CoursesFile     = "courses.json"
	EnrollmentsFile = "enrollment.json"
)

const jsonIndent = "    "

type documentStore interface {
	Read(name string) (string, error)
	Write(name, content string) error
}

// Observer receives lock and persistence measurements. All methods must be safe for concurrent use.
type Observer interface {
	ObserveLockWait(collection string, wait time.Duration, err error)
	ObserveSave(collection string, duration time.Duration, err error)
	SetRecordCount(collection string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveLockWait(string, time.Duration, error) {}
func (nopObserver) ObserveSave(string, time.Duration, error)     {}
func (nopObserver) SetRecordCount(string, int)                   {}

// Options carries the collaborators shared by every manager.
type Options struct {
	LockTimeout time.Duration
	Logger      *zap.Logger
	Validator   *validator.Validate
	Observer    Observer
}

// collection holds the mutex, persistence target and ambient collaborators of one manager.
// The mutex guards the owning manager's map; nothing else reads or writes that map.
type collection struct {
	name     string
	file     string
	mu       sync.Mutex
	store    documentStore
	timeout  time.Duration
	logger   *zap.Logger
	validate *validator.Validate
	observer Observer
}

func newCollection(name, file string, store documentStore, opts Options) *collection {
	if opts.LockTimeout == 0 {
		opts.LockTimeout = lock.DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Validator == nil {
		opts.Validator = validator.New()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &collection{
		name:     name,
		file:     file,
		store:    store,
		timeout:  opts.LockTimeout,
		logger:   opts.Logger.Named(name),
		validate: opts.Validator,
		observer: opts.Observer,
	}
}

// acquire takes the collection lock within the configured timeout.
func (c *collection) acquire(op string) (*lock.Guard, error) {
	start := time.Now()
	guard, err := lock.Acquire(&c.mu, c.timeout)
	c.observer.ObserveLockWait(c.name, time.Since(start), err)
	if err != nil {
		c.logger.Warn("lock acquisition failed", zap.String("op", op), zap.Duration("timeout", c.timeout), zap.Error(err))
		return nil, appErrors.Wrapf(err, appErrors.FromError(err), "%s %s", c.name, op)
	}
	return guard, nil
}

// persist serialises payload as an indented JSON array and writes it atomically. Callers hold the lock.
func (c *collection) persist(payload interface{}, count int) error {
	start := time.Now()
	err := c.writeDocument(payload)
	c.observer.ObserveSave(c.name, time.Since(start), err)
	if err != nil {
		c.logger.Error("save failed", zap.String("file", c.file), zap.Error(err))
		return err
	}
	c.observer.SetRecordCount(c.name, count)
	c.logger.Debug("saved", zap.String("file", c.file), zap.Int("records", count))
	return nil
}

func (c *collection) writeDocument(payload interface{}) error {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", jsonIndent)
	if err := enc.Encode(payload); err != nil {
		return appErrors.Wrapf(err, appErrors.ErrDataInvalid, "encode %s", c.file)
	}
	if err := c.store.Write(c.file, buf.String()); err != nil {
		return appErrors.Wrapf(err, appErrors.FromError(err), "write %s", c.file)
	}
	return nil
}

// readDocument decodes the persisted array into target. It reports false when no document exists yet.
func (c *collection) readDocument(target interface{}) (bool, error) {
	content, err := c.store.Read(c.file)
	if err != nil {
		return false, appErrors.Wrapf(err, appErrors.FromError(err), "read %s", c.file)
	}
	if len(bytes.TrimSpace([]byte(content))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return false, appErrors.Wrapf(err, appErrors.ErrFileCorrupted, "parse %s", c.file)
	}
	return true, nil
}

func (c *collection) check(record interface{}) error {
	if err := c.validate.Struct(record); err != nil {
		return appErrors.Wrapf(err, appErrors.ErrDataInvalid, "invalid %s record", c.name)
	}
	return nil
}

// commit persists after an in-memory mutation and undoes the mutation when the save fails,
// so a failed operation leaves the collection as it was.
func (c *collection) commit(save func() error, undo func()) error {
	if err := save(); err != nil {
		undo()
		c.logger.Warn("mutation rolled back after failed save", zap.Error(err))
		return err
	}
	return nil
}

func notFound(kind, id string) error {
	return appErrors.Clone(appErrors.ErrDataNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

func alreadyExists(kind, id string) error {
	return appErrors.Clone(appErrors.ErrDataAlreadyExists, fmt.Sprintf("%s %s already exists", kind, id))
}

func invalid(format string, args ...interface{}) error {
	return appErrors.Clone(appErrors.ErrDataInvalid, fmt.Sprintf(format, args...))
}
