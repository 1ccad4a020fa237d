package models

// StudentProfile holds the fields only students carry.
type StudentProfile struct {
	Gender     string
	Age        int `validate:"gte=0,lte=150"`
	Department string
	ClassInfo  string
	Contact    string
}
