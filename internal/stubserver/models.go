package stubserver

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
}

// Document is the stored document row. Only the listed fields go on the wire.
type Document struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	FileName   string    `json:"fileName"`
	SizeBytes  int       `json:"-"`
	CharCount  int       `json:"-"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type ChatEntry struct {
	Type    string
	Content string
}
