package service

import (
	"context"
	"errors"
	"time"

	"github.com/bubblegumsoldier/liive/internal/metrics"
	"github.com/bubblegumsoldier/liive/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventPublisher 把成员变更事件推给在线连接，由 ws 包实现。
type EventPublisher interface {
	Publish(chatID uuid.UUID, event any)
}

// ChatService 封装会话生命周期与成员管理的业务逻辑。
// caller 身份由上层显式传入，所有读写都走同一个事务作用域。
type ChatService struct {
	db  *gorm.DB
	pub EventPublisher
}

func NewChatService(db *gorm.DB, pub EventPublisher) *ChatService {
	return &ChatService{db: db, pub: pub}
}

// ParticipantInput 是创建会话/拉人时调用方提供的成员描述。
type ParticipantInput struct {
	UserID uint
	Role   models.Role
}

// ParticipantDTO 对外输出的成员数据。
type ParticipantDTO struct {
	ID               uuid.UUID   `json:"id"`
	ChatID           uuid.UUID   `json:"chat_id"`
	UserID           uint        `json:"user_id"`
	Role             models.Role `json:"role"`
	Message          *string     `json:"message,omitempty"`
	MessageUpdatedAt *time.Time  `json:"message_updated_at,omitempty"`
	JoinedAt         time.Time   `json:"joined_at"`
}

// ChatDTO 对外输出的会话数据，总是带上全部成员。
type ChatDTO struct {
	ID           uuid.UUID        `json:"id"`
	IsOneOnOne   bool             `json:"is_one_on_one"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Participants []ParticipantDTO `json:"participants"`
}

// MembershipEvent 推送给会话内在线成员的变更通知。
type MembershipEvent struct {
	Type   string      `json:"type"`
	ChatID uuid.UUID   `json:"chat_id"`
	UserID uint        `json:"user_id"`
	Role   models.Role `json:"role,omitempty"`
}

func participantDTO(p models.ChatParticipant) ParticipantDTO {
	return ParticipantDTO{
		ID:               p.ID,
		ChatID:           p.ChatID,
		UserID:           p.UserID,
		Role:             p.Role,
		Message:          p.Message,
		MessageUpdatedAt: p.MessageUpdatedAt,
		JoinedAt:         p.JoinedAt,
	}
}

// Create 创建会话并在同一事务内写入全部成员。成员列表为空或
// 一对一会话成员数不是 2 时直接拒绝。调用方可以给任何成员
// （包括自己之外的用户）指定任意角色，也不要求自己在成员列表里。
func (s *ChatService) Create(ctx context.Context, callerID uint, isOneOnOne bool, parts []ParticipantInput) (*ChatDTO, error) {
	if len(parts) == 0 {
		return nil, ErrNoParticipants
	}
	if isOneOnOne && len(parts) != 2 {
		return nil, ErrOneOnOneSize
	}
	chat := models.Chat{IsOneOnOne: isOneOnOne}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		for _, p := range parts {
			cp := models.ChatParticipant{ChatID: chat.ID, UserID: p.UserID, Role: p.Role}
			if err := tx.Create(&cp).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	metrics.MembershipOpsTotal.WithLabelValues("create_chat").Inc()
	// 提交后重新读取，让 id、时间戳等默认值回填到结果里。
	return s.loadChat(ctx, chat.ID)
}

// ListForUser 返回 caller 参与的全部会话（不限角色），无分页。
func (s *ChatService) ListForUser(ctx context.Context, callerID uint) ([]ChatDTO, error) {
	var chats []models.Chat
	err := s.db.WithContext(ctx).
		Select("chats.*").
		Joins("JOIN chat_participants ON chat_participants.chat_id = chats.id").
		Where("chat_participants.user_id = ?", callerID).
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return []ChatDTO{}, nil
	}

	chatIDs := make([]uuid.UUID, 0, len(chats))
	for _, c := range chats {
		chatIDs = append(chatIDs, c.ID)
	}
	var parts []models.ChatParticipant
	if err := s.db.WithContext(ctx).Where("chat_id IN ?", chatIDs).Find(&parts).Error; err != nil {
		return nil, err
	}
	byChat := make(map[uuid.UUID][]ParticipantDTO, len(chats))
	for _, p := range parts {
		byChat[p.ChatID] = append(byChat[p.ChatID], participantDTO(p))
	}

	out := make([]ChatDTO, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatDTO{
			ID:           c.ID,
			IsOneOnOne:   c.IsOneOnOne,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			Participants: byChat[c.ID],
		})
	}
	return out, nil
}

// Get 返回单个会话及其成员，caller 不是成员时按 not found 处理。
func (s *ChatService) Get(ctx context.Context, callerID uint, chatID uuid.UUID) (*ChatDTO, error) {
	if _, err := s.findChat(ctx, chatID); err != nil {
		return nil, err
	}
	if _, err := s.findParticipant(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	return s.loadChat(ctx, chatID)
}

// AddParticipant 把用户加入群聊。检查顺序是固定约定：会话存在 →
// 非一对一 → caller 是成员 → caller 是 admin → 目标不是成员。
func (s *ChatService) AddParticipant(ctx context.Context, callerID uint, chatID uuid.UUID, userID uint, role models.Role) (*ParticipantDTO, error) {
	chat, err := s.findChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsOneOnOne {
		return nil, ErrOneOnOneImmutable
	}
	if err := s.requireAdmin(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	if _, err := s.findParticipant(ctx, chatID, userID); err == nil {
		return nil, ErrAlreadyParticipant
	} else if !errors.Is(err, ErrParticipantNotFound) {
		return nil, err
	}

	cp := models.ChatParticipant{ChatID: chatID, UserID: userID, Role: role}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cp).Error; err != nil {
			return err
		}
		return touchChat(tx, chatID)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	metrics.MembershipOpsTotal.WithLabelValues("add_participant").Inc()
	s.publish(MembershipEvent{Type: "participant_added", ChatID: chatID, UserID: userID, Role: role})
	dto := participantDTO(cp)
	return &dto, nil
}

// RemoveParticipant 把用户移出群聊。与 AddParticipant 同样的前置
// 检查，目标不是成员时返回 not found。允许移除最后一个 admin，
// 留下无人管理的会话——这是已知缺口，这里不做兜底。
func (s *ChatService) RemoveParticipant(ctx context.Context, callerID uint, chatID uuid.UUID, userID uint) error {
	chat, err := s.findChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.IsOneOnOne {
		return ErrOneOnOneImmutable
	}
	if err := s.requireAdmin(ctx, chatID, callerID); err != nil {
		return err
	}
	target, err := s.findParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ChatParticipant{}, "id = ?", target.ID).Error; err != nil {
			return err
		}
		return touchChat(tx, chatID)
	})
	if err != nil {
		return storeErr(err)
	}
	metrics.MembershipOpsTotal.WithLabelValues("remove_participant").Inc()
	s.publish(MembershipEvent{Type: "participant_removed", ChatID: chatID, UserID: userID})
	return nil
}

// UpdateParticipantRole 修改成员角色。目标成员在 admin 检查之前
// 查找；和增删成员不同，一对一会话的角色修改是允许的。
func (s *ChatService) UpdateParticipantRole(ctx context.Context, callerID uint, chatID uuid.UUID, userID uint, role models.Role) (*ParticipantDTO, error) {
	if _, err := s.findChat(ctx, chatID); err != nil {
		return nil, err
	}
	target, err := s.findParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, chatID, callerID); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChatParticipant{}).Where("id = ?", target.ID).Update("role", role).Error; err != nil {
			return err
		}
		return touchChat(tx, chatID)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	metrics.MembershipOpsTotal.WithLabelValues("update_role").Inc()
	s.publish(MembershipEvent{Type: "role_changed", ChatID: chatID, UserID: userID, Role: role})

	target.Role = role
	dto := participantDTO(*target)
	return &dto, nil
}

// SetMessage 更新 caller 自己在会话里的状态消息，message 与
// message_updated_at 总是一起写。任何成员都可以改自己的，不需要 admin。
func (s *ChatService) SetMessage(ctx context.Context, callerID uint, chatID uuid.UUID, text string) (*ParticipantDTO, error) {
	if _, err := s.findChat(ctx, chatID); err != nil {
		return nil, err
	}
	target, err := s.findParticipant(ctx, chatID, callerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"message": text, "message_updated_at": now}
		if err := tx.Model(&models.ChatParticipant{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
			return err
		}
		return touchChat(tx, chatID)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	target.Message = &text
	target.MessageUpdatedAt = &now
	dto := participantDTO(*target)
	return &dto, nil
}

// IsParticipant 给 ws 接入层用的成员资格检查。
func (s *ChatService) IsParticipant(ctx context.Context, chatID uuid.UUID, userID uint) (bool, error) {
	_, err := s.findParticipant(ctx, chatID, userID)
	if errors.Is(err, ErrParticipantNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *ChatService) findChat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	var chat models.Chat
	if err := s.db.WithContext(ctx).First(&chat, "id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

func (s *ChatService) findParticipant(ctx context.Context, chatID uuid.UUID, userID uint) (*models.ChatParticipant, error) {
	var p models.ChatParticipant
	err := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

// requireAdmin 先确认 caller 是成员（否则 not found），再确认角色。
func (s *ChatService) requireAdmin(ctx context.Context, chatID uuid.UUID, callerID uint) error {
	p, err := s.findParticipant(ctx, chatID, callerID)
	if err != nil {
		return err
	}
	if p.Role != models.RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}

func (s *ChatService) loadChat(ctx context.Context, chatID uuid.UUID) (*ChatDTO, error) {
	chat, err := s.findChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var parts []models.ChatParticipant
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("joined_at").Find(&parts).Error; err != nil {
		return nil, err
	}
	dto := ChatDTO{
		ID:           chat.ID,
		IsOneOnOne:   chat.IsOneOnOne,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
		Participants: make([]ParticipantDTO, 0, len(parts)),
	}
	for _, p := range parts {
		dto.Participants = append(dto.Participants, participantDTO(p))
	}
	return &dto, nil
}

func (s *ChatService) publish(evt MembershipEvent) {
	if s.pub != nil {
		s.pub.Publish(evt.ChatID, evt)
	}
}

// touchChat 刷新会话的 updated_at，成员的任何变更都算会话变更。
func touchChat(tx *gorm.DB, chatID uuid.UUID) error {
	return tx.Model(&models.Chat{}).Where("id = ?", chatID).Update("updated_at", time.Now()).Error
}

// storeErr 把存储层的唯一约束冲突翻译成业务冲突错误，
// 其余错误原样向上抛。
func storeErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}
