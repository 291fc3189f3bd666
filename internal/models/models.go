package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role 表示成员在会话中的角色，落库为小写字符串。
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole 把外部输入映射为合法角色，未知值返回 false。
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleMember:
		return RoleMember, true
	}
	return "", false
}

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chat 的 IsOneOnOne 创建后不可变；UpdatedAt 在会话本身或其成员
// 发生任何变更时刷新。
type Chat struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	IsOneOnOne bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ChatParticipant 通过 (chat_id, user_id) 唯一索引保证同一用户在
// 同一会话中最多出现一次。Chat 与 User 之间不做双向引用，统一用
// 显式外键字段加查询导航。
type ChatParticipant struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChatID           uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_chat_user;not null"`
	UserID           uint      `gorm:"uniqueIndex:idx_chat_user;index;not null"`
	Role             Role      `gorm:"size:16;not null"`
	Message          *string   `gorm:"type:text"`
	MessageUpdatedAt *time.Time
	JoinedAt         time.Time `gorm:"autoCreateTime"`
}

func (p *ChatParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type Message struct {
	ID        uint      `gorm:"primaryKey"`
	ChatID    uuid.UUID `gorm:"type:uuid;index:idx_msg_chat_id;not null"`
	UserID    uint      `gorm:"index;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
