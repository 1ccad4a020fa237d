package models

import (
	"fmt"

	"github.com/noah-isme/course-registry/pkg/password"
)

// UserRole discriminates the user variants. Its string form is the persisted "type" value.
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleTeacher UserRole = "TEACHER"
	RoleAdmin   UserRole = "ADMIN"
)

// ParseUserRole maps a persisted type discriminator to a role.
func ParseUserRole(raw string) (UserRole, bool) {
	switch UserRole(raw) {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return UserRole(raw), true
	default:
		return "", false
	}
}

// User is an account in the single id namespace shared by students, teachers and admins.
// Exactly one of Student or Teacher is set, matching Role; admins carry neither.
type User struct {
	ID           string   `validate:"required,excludesall=/\\"`
	Name         string   `validate:"required"`
	PasswordHash string   `validate:"required"`
	Salt         string   `validate:"omitempty,alphanum"`
	Role         UserRole `validate:"required,oneof=STUDENT TEACHER ADMIN"`
	Student      *StudentProfile
	Teacher      *TeacherProfile
}

// NewStudent builds a student account, hashing plaintext immediately.
func NewStudent(hasher *password.Hasher, id, name, plaintext string, profile StudentProfile) (*User, error) {
	u := &User{ID: id, Name: name, Role: RoleStudent, Student: &profile}
	if err := u.initPassword(hasher, plaintext); err != nil {
		return nil, err
	}
	return u, nil
}

// NewTeacher builds a teacher account, hashing plaintext immediately.
func NewTeacher(hasher *password.Hasher, id, name, plaintext string, profile TeacherProfile) (*User, error) {
	u := &User{ID: id, Name: name, Role: RoleTeacher, Teacher: &profile}
	if err := u.initPassword(hasher, plaintext); err != nil {
		return nil, err
	}
	return u, nil
}

// NewAdmin builds an admin account, hashing plaintext immediately.
func NewAdmin(hasher *password.Hasher, id, name, plaintext string) (*User, error) {
	u := &User{ID: id, Name: name, Role: RoleAdmin}
	if err := u.initPassword(hasher, plaintext); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) initPassword(hasher *password.Hasher, plaintext string) error {
	hash, salt, err := hasher.Hash(u.ID, plaintext)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", u.ID, err)
	}
	u.PasswordHash = hash
	u.Salt = salt
	return nil
}

// VerifyPassword checks candidate against the stored hash and salt.
func (u *User) VerifyPassword(hasher *password.Hasher, candidate string) bool {
	return hasher.Verify(u.PasswordHash, u.Salt, candidate)
}

// SetPassword replaces the hash with a freshly salted one.
func (u *User) SetPassword(hasher *password.Hasher, plaintext string) error {
	hash, salt, err := hasher.Rehash(plaintext)
	if err != nil {
		return fmt.Errorf("rehash password for %s: %w", u.ID, err)
	}
	u.PasswordHash = hash
	u.Salt = salt
	return nil
}

// CheckVariant reports whether the profile payload matches Role.
func (u *User) CheckVariant() error {
	switch u.Role {
	case RoleStudent:
		if u.Student == nil || u.Teacher != nil {
			return fmt.Errorf("student %s must carry only a student profile", u.ID)
		}
	case RoleTeacher:
		if u.Teacher == nil || u.Student != nil {
			return fmt.Errorf("teacher %s must carry only a teacher profile", u.ID)
		}
	case RoleAdmin:
		if u.Student != nil || u.Teacher != nil {
			return fmt.Errorf("admin %s must not carry a profile", u.ID)
		}
	default:
		return fmt.Errorf("user %s has unknown role %q", u.ID, u.Role)
	}
	return nil
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Student != nil {
		s := *u.Student
		c.Student = &s
	}
	if u.Teacher != nil {
		t := *u.Teacher
		c.Teacher = &t
	}
	return &c
}

// Department returns the department of students and teachers.
func (u *User) Department() string {
	switch {
	case u.Student != nil:
		return u.Student.Department
	case u.Teacher != nil:
		return u.Teacher.Department
	default:
		return ""
	}
}
