package models

import (
	"time"
)

// User 用户模型
type User struct {
	ID                string     `json:"id" gorm:"type:varchar(36);primaryKey" bson:"_id"`
	Nickname          string     `json:"nickname" gorm:"type:varchar(12);uniqueIndex;not null" bson:"nickname"`
	Email             string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null" bson:"email"`
	Password          string     `json:"-" gorm:"not null" bson:"password"` // 密码哈希不返回给前端
	PasswordChangedAt *time.Time `json:"passwordChangedAt,omitempty" bson:"passwordChangedAt,omitempty"`
	Avatar            string     `json:"avatar" bson:"avatar,omitempty"`
	Active            bool       `json:"-" gorm:"not null;default:true;index" bson:"active"` // false 表示已注销（软删除）
	CreatedAt         time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// ChangedPasswordAfter 判断密码是否在令牌签发之后修改过（秒级精度）
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.Unix() > issuedAt.Unix()
}

// ToResponse 转换为响应模型
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:                u.ID,
		Nickname:          u.Nickname,
		Email:             u.Email,
		Avatar:            u.Avatar,
		PasswordChangedAt: u.PasswordChangedAt,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

// UserResponse 用户响应模型（不包含敏感信息）
type UserResponse struct {
	ID                string     `json:"id"`
	Nickname          string     `json:"nickname"`
	Email             string     `json:"email"`
	Avatar            string     `json:"avatar,omitempty"`
	Online            bool       `json:"online"`
	PasswordChangedAt *time.Time `json:"passwordChangedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}
