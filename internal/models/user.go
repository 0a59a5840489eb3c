package models

import "time"

// User is a site account. Admins moderate the chat inbox.
type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Login        string    `gorm:"type:varchar(60);uniqueIndex;not null" json:"login"`
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	IsAdmin      bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
