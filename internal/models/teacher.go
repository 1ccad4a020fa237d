package models

// TeacherProfile holds the fields only teachers carry.
type TeacherProfile struct {
	Department string
	Title      string
	Contact    string
}
