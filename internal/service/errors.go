package service

import "errors"

// 业务层通用错误，handler 根据错误类型映射到合适的 HTTP 状态码。
// 注意查找顺序约定：会话/成员不存在一律是 not found，只有 caller
// 确实是成员但不是 admin 时才是 forbidden。
var (
	ErrEmailTaken         = errors.New("email taken")
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrChatNotFound        = errors.New("chat not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotAdmin            = errors.New("only admins can perform this action")

	ErrNoParticipants     = errors.New("at least one participant must be provided")
	ErrOneOnOneSize       = errors.New("one-on-one chats must have exactly 2 participants")
	ErrOneOnOneImmutable  = errors.New("cannot modify participants of a one-on-one chat")
	ErrAlreadyParticipant = errors.New("user is already a participant in this chat")
	ErrInvalidRole        = errors.New("invalid role")

	// 并发写在提交时撞上唯一约束，由存储层兜底。
	ErrConflict = errors.New("conflicting concurrent update")
)
