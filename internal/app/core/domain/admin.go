package domain

import "time"

// Admin 管理員，可檢視所有帳戶與全部分錄
type Admin struct {
	ID           int64
	Username     string
	PasswordHash []byte
	CreatedAt    int64
}

func NewAdmin(username string, passwordHash []byte) *Admin {
	return &Admin{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UnixNano(),
	}
}

// Redacted 回傳不含 PasswordHash 的副本
func (a Admin) Redacted() Admin {
	a.PasswordHash = nil
	return a
}
