package model

import "time"

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat 对应 chats 表。一个会话绑定一个文档。
type Chat struct {
	ID        string    `gorm:"primaryKey;type:char(26)" json:"id"` // ULID
	FileKey   string    `gorm:"type:varchar(255);not null;index" json:"fileKey"`
	FileName  string    `gorm:"type:varchar(255)" json:"fileName"`
	OwnerID   uint      `gorm:"not null;index" json:"ownerId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Chat) TableName() string {
	return "chats"
}

// Message 对应 messages 表。消息只追加不修改，自增 ID 即创建顺序。
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    string    `gorm:"type:char(26);not null;index" json:"chatId"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// Turn 是客户端提交的一轮对话。
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
