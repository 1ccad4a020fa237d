package repository

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/internal/models"
	appErrors "github.com/noah-isme/course-registry/pkg/errors"
	"github.com/noah-isme/course-registry/pkg/password"
)

type userRecord struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Password   string  `json:"password"`
	Salt       string  `json:"salt"`
	Type       string  `json:"type"`
	Gender     *string `json:"gender,omitempty"`
	Age        *int    `json:"age,omitempty"`
	Department *string `json:"department,omitempty"`
	ClassInfo  *string `json:"classInfo,omitempty"`
	Title      *string `json:"title,omitempty"`
	Contact    *string `json:"contact,omitempty"`
}

// UserManager owns every account, keyed by id across all roles.
type UserManager struct {
	*collection
	hasher *password.Hasher
	users  map[string]*models.User
	// retained holds loaded entries with an unrecognised type; they keep their id and are saved back unchanged.
	retained map[string]userRecord
}

// NewUserManager constructs an empty manager persisting to users.json.
func NewUserManager(store documentStore, hasher *password.Hasher, opts Options) *UserManager {
	if hasher == nil {
		hasher = password.New()
	}
	return &UserManager{
		collection: newCollection("users", UsersFile, store, opts),
		hasher:     hasher,
		users:      make(map[string]*models.User),
		retained:   make(map[string]userRecord),
	}
}

// AddStudent inserts a student account.
func (m *UserManager) AddStudent(user *models.User) error {
	return m.addUser(user, models.RoleStudent)
}

// AddTeacher inserts a teacher account.
func (m *UserManager) AddTeacher(user *models.User) error {
	return m.addUser(user, models.RoleTeacher)
}

// AddAdmin inserts an admin account.
func (m *UserManager) AddAdmin(user *models.User) error {
	return m.addUser(user, models.RoleAdmin)
}

func (m *UserManager) addUser(user *models.User, role models.UserRole) error {
	if user == nil {
		return appErrors.Clone(appErrors.ErrInvalidInput, "user is required")
	}
	if user.Role != role {
		return invalid("user %s has role %s, expected %s", user.ID, user.Role, role)
	}
	if err := user.CheckVariant(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrDataInvalid.Code, "invalid user variant")
	}
	if err := m.check(user); err != nil {
		return err
	}

	guard, err := m.acquire("add")
	if err != nil {
		return err
	}
	defer guard.Release()

	if m.taken(user.ID) {
		return alreadyExists("user", user.ID)
	}
	m.users[user.ID] = user.Clone()
	if err := m.commit(m.saveLocked, func() { delete(m.users, user.ID) }); err != nil {
		return err
	}
	m.logger.Info("user added", zap.String("id", user.ID), zap.String("role", string(role)))
	return nil
}

// RemoveUser deletes an account. Removing an absent id reports ErrDataNotFound.
func (m *UserManager) RemoveUser(id string) error {
	guard, err := m.acquire("remove")
	if err != nil {
		return err
	}
	defer guard.Release()

	existing, ok := m.users[id]
	if !ok {
		return notFound("user", id)
	}
	delete(m.users, id)
	if err := m.commit(m.saveLocked, func() { m.users[id] = existing }); err != nil {
		return err
	}
	m.logger.Info("user removed", zap.String("id", id))
	return nil
}

// GetUser returns a copy of the account.
func (m *UserManager) GetUser(id string) (*models.User, error) {
	return m.lookup(id, "")
}

// GetStudent returns the account only when it is a student.
func (m *UserManager) GetStudent(id string) (*models.User, error) {
	return m.lookup(id, models.RoleStudent)
}

// GetTeacher returns the account only when it is a teacher.
func (m *UserManager) GetTeacher(id string) (*models.User, error) {
	return m.lookup(id, models.RoleTeacher)
}

// GetAdmin returns the account only when it is an admin.
func (m *UserManager) GetAdmin(id string) (*models.User, error) {
	return m.lookup(id, models.RoleAdmin)
}

func (m *UserManager) lookup(id string, role models.UserRole) (*models.User, error) {
	guard, err := m.acquire("get")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	user, ok := m.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	if role != "" && user.Role != role {
		return nil, notFound(string(role), id)
	}
	return user.Clone(), nil
}

// HasUser reports whether the id is taken by any role.
func (m *UserManager) HasUser(id string) (bool, error) {
	guard, err := m.acquire("has")
	if err != nil {
		return false, err
	}
	defer guard.Release()

	return m.taken(id), nil
}

func (m *UserManager) taken(id string) bool {
	if _, ok := m.users[id]; ok {
		return true
	}
	_, ok := m.retained[id]
	return ok
}

// Authenticate returns the account when password matches. Unknown ids and wrong passwords
// both yield ErrAuthenticationFailed.
func (m *UserManager) Authenticate(id, plaintext string) (*models.User, error) {
	guard, err := m.acquire("authenticate")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	user, ok := m.users[id]
	if !ok {
		m.hasher.VerifyUnknown(plaintext)
		m.logger.Debug("authentication failed: unknown user", zap.String("id", id))
		return nil, appErrors.Clone(appErrors.ErrAuthenticationFailed, "")
	}
	if !user.VerifyPassword(m.hasher, plaintext) {
		m.logger.Debug("authentication failed: password mismatch", zap.String("id", id))
		return nil, appErrors.Clone(appErrors.ErrAuthenticationFailed, "")
	}
	return user.Clone(), nil
}

// UpdateUserInfo overwrites the name and role-specific profile of an existing account.
// The password hash, salt and role are not changed.
func (m *UserManager) UpdateUserInfo(user *models.User) error {
	if user == nil {
		return appErrors.Clone(appErrors.ErrInvalidInput, "user is required")
	}
	if err := user.CheckVariant(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrDataInvalid.Code, "invalid user variant")
	}

	guard, err := m.acquire("update")
	if err != nil {
		return err
	}
	defer guard.Release()

	existing, ok := m.users[user.ID]
	if !ok {
		return notFound("user", user.ID)
	}
	if existing.Role != user.Role {
		return invalid("user %s is %s, cannot update as %s", user.ID, existing.Role, user.Role)
	}

	updated := existing.Clone()
	updated.Name = user.Name
	switch updated.Role {
	case models.RoleStudent:
		profile := *user.Student
		updated.Student = &profile
	case models.RoleTeacher:
		profile := *user.Teacher
		updated.Teacher = &profile
	}
	if err := m.check(updated); err != nil {
		return err
	}

	m.users[user.ID] = updated
	if err := m.commit(m.saveLocked, func() { m.users[user.ID] = existing }); err != nil {
		return err
	}
	m.logger.Info("user updated", zap.String("id", user.ID))
	return nil
}

// ChangeUserPassword replaces the password after verifying oldPassword.
// Unknown ids and a wrong old password both yield ErrAuthenticationFailed.
func (m *UserManager) ChangeUserPassword(id, oldPassword, newPassword string) error {
	if newPassword == "" {
		return appErrors.Clone(appErrors.ErrInvalidInput, "new password is required")
	}

	guard, err := m.acquire("change_password")
	if err != nil {
		return err
	}
	defer guard.Release()

	existing, ok := m.users[id]
	if !ok {
		m.hasher.VerifyUnknown(oldPassword)
	}
	if !ok || !existing.VerifyPassword(m.hasher, oldPassword) {
		m.logger.Debug("password change rejected", zap.String("id", id), zap.Bool("known", ok))
		return appErrors.Clone(appErrors.ErrAuthenticationFailed, "old password does not match")
	}

	updated := existing.Clone()
	if err := updated.SetPassword(m.hasher, newPassword); err != nil {
		return appErrors.Wrap(err, appErrors.ErrOperationFailed.Code, "failed to hash password")
	}
	m.users[id] = updated
	if err := m.commit(m.saveLocked, func() { m.users[id] = existing }); err != nil {
		return err
	}
	m.logger.Info("password changed", zap.String("id", id))
	return nil
}

// FindUsers returns the sorted ids of accounts matching pred. pred receives copies.
func (m *UserManager) FindUsers(pred func(*models.User) bool) ([]string, error) {
	guard, err := m.acquire("find")
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	ids := make([]string, 0)
	for id, user := range m.users {
		if pred == nil || pred(user.Clone()) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetAllStudentIDs returns sorted student ids.
func (m *UserManager) GetAllStudentIDs() ([]string, error) {
	return m.idsByRole(models.RoleStudent)
}

// GetAllTeacherIDs returns sorted teacher ids.
func (m *UserManager) GetAllTeacherIDs() ([]string, error) {
	return m.idsByRole(models.RoleTeacher)
}

// GetAllAdminIDs returns sorted admin ids.
func (m *UserManager) GetAllAdminIDs() ([]string, error) {
	return m.idsByRole(models.RoleAdmin)
}

func (m *UserManager) idsByRole(role models.UserRole) ([]string, error) {
	return m.FindUsers(func(u *models.User) bool { return u.Role == role })
}

// Count returns the number of accounts.
func (m *UserManager) Count() (int, error) {
	guard, err := m.acquire("count")
	if err != nil {
		return 0, err
	}
	defer guard.Release()
	return len(m.users), nil
}

// SaveData writes users.json. Pass alreadyLocked when the caller holds the collection lock.
func (m *UserManager) SaveData(alreadyLocked bool) error {
	if !alreadyLocked {
		guard, err := m.acquire("save")
		if err != nil {
			return err
		}
		defer guard.Release()
	}
	return m.saveLocked()
}

func (m *UserManager) saveLocked() error {
	ids := make([]string, 0, len(m.users)+len(m.retained))
	for id := range m.users {
		ids = append(ids, id)
	}
	for id := range m.retained {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]userRecord, 0, len(ids))
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			records = append(records, toUserRecord(user))
			continue
		}
		records = append(records, m.retained[id])
	}
	return m.persist(records, len(m.users))
}

// LoadData replaces the in-memory accounts with users.json. A structurally invalid file
// aborts the load and leaves the current accounts untouched. Entries with an unknown type cannot
// be used but are kept, so later saves write them back.
func (m *UserManager) LoadData() error {
	guard, err := m.acquire("load")
	if err != nil {
		return err
	}
	defer guard.Release()

	var records []userRecord
	found, err := m.readDocument(&records)
	if err != nil {
		return err
	}

	loaded := make(map[string]*models.User, len(records))
	retained := make(map[string]userRecord)
	for i, rec := range records {
		if rec.ID == "" {
			return invalid("%s entry %d has no id", m.file, i)
		}
		_, dup := loaded[rec.ID]
		_, dupRetained := retained[rec.ID]
		if dup || dupRetained {
			return invalid("%s has duplicate id %s", m.file, rec.ID)
		}
		user, err := fromUserRecord(rec)
		if err != nil {
			m.logger.Warn("retaining user with unknown type", zap.String("id", rec.ID), zap.String("type", rec.Type))
			retained[rec.ID] = rec
			continue
		}
		loaded[rec.ID] = user
	}

	m.users = loaded
	m.retained = retained
	m.observer.SetRecordCount(m.name, len(loaded))
	m.logger.Info("users loaded", zap.Int("count", len(loaded)), zap.Bool("file_found", found))
	return nil
}

func toUserRecord(u *models.User) userRecord {
	rec := userRecord{
		ID:       u.ID,
		Name:     u.Name,
		Password: u.PasswordHash,
		Salt:     u.Salt,
		Type:     string(u.Role),
	}
	switch u.Role {
	case models.RoleStudent:
		p := u.Student
		rec.Gender, rec.Age, rec.Department, rec.ClassInfo, rec.Contact = &p.Gender, &p.Age, &p.Department, &p.ClassInfo, &p.Contact
	case models.RoleTeacher:
		p := u.Teacher
		rec.Department, rec.Title, rec.Contact = &p.Department, &p.Title, &p.Contact
	}
	return rec
}

func fromUserRecord(rec userRecord) (*models.User, error) {
	role, ok := models.ParseUserRole(rec.Type)
	if !ok {
		return nil, fmt.Errorf("unknown user type %q", rec.Type)
	}
	user := &models.User{
		ID:           rec.ID,
		Name:         rec.Name,
		PasswordHash: rec.Password,
		Salt:         rec.Salt,
		Role:         role,
	}
	switch role {
	case models.RoleStudent:
		user.Student = &models.StudentProfile{
			Gender:     deref(rec.Gender),
			Department: deref(rec.Department),
			ClassInfo:  deref(rec.ClassInfo),
			Contact:    deref(rec.Contact),
		}
		if rec.Age != nil {
			user.Student.Age = *rec.Age
		}
	case models.RoleTeacher:
		user.Teacher = &models.TeacherProfile{
			Department: deref(rec.Department),
			Title:      deref(rec.Title),
			Contact:    deref(rec.Contact),
		}
	}
	return user, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
