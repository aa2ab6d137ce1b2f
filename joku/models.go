package joku

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

var (
	columnUserMoney = "money"
	columnUserXP    = "xp"
	columnUserLevel = "level"
)

const defaultStartingMoney = 200

// IDList is a slice of Discord snowflake IDs stored as a JSON string
// column, so the same model works on SQLite and Postgres.
type IDList []string

// Scan implements the sql.Scanner interface.
func (l *IDList) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("unexpected type for IDList: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		l = IDList{}
	}
	data, err := json.Marshal(l)
	return string(data), err
}

// GormDataType is used by GORM to determine the default data type for a field.
func (IDList) GormDataType() string {
	return "string"
}

// User is the per-user persisted state: XP, level and currency.
//
//nolint:lll // struct tags can't be split
type User struct {
	// ID is the Discord user snowflake
	ID string `json:"id" gorm:"primaryKey;unique;type:string"`

	// XP points accumulated by chatting
	XP int `json:"xp" gorm:"not null;default:0"`

	// Level, derived from XP
	Level int `json:"level" gorm:"not null;default:1"`

	// Money is the user's currency balance
	Money int `json:"money" gorm:"not null;default:200"`

	LastModified time.Time `json:"last_modified" gorm:"autoUpdateTime"`

	Inventory []UserInventoryItem `json:"inventory,omitempty" gorm:"foreignKey:UserID"`
}

func (u *User) String() string {
	return fmt.Sprintf("<User id=%s xp=%d money=%d>", u.ID, u.XP, u.Money)
}

// UserInventoryItem is one stack of an item in a user's inventory.
type UserInventoryItem struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"index"`
	ItemID int    `json:"item_id" gorm:"not null"`
	Count  int    `json:"count" gorm:"not null"`
}

// Guild is the per-guild persisted state.
type Guild struct {
	// ID is the Discord guild snowflake
	ID string `json:"id" gorm:"primaryKey;unique;type:string"`

	// RolemeRoles are the role IDs users may self-assign in this guild
	RolemeRoles IDList `json:"roleme_roles" gorm:"type:string"`

	Tags          []Tag          `json:"tags,omitempty" gorm:"foreignKey:GuildID"`
	RoleStates    []RoleState    `json:"rolestates,omitempty" gorm:"foreignKey:GuildID"`
	Settings      []Setting      `json:"settings,omitempty" gorm:"foreignKey:GuildID"`
	EventSettings []EventSetting `json:"event_settings,omitempty" gorm:"foreignKey:GuildID"`
}

// Tag is a named snippet of user-authored content, scoped to a guild
// unless marked global.
type Tag struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	GuildID string `json:"guild_id" gorm:"index"`
	UserID  string `json:"user_id" gorm:"index"`

	Name string `json:"name" gorm:"not null;index"`

	// Global tags resolve in every guild
	Global bool `json:"global" gorm:"not null;default:false"`

	Content      string    `json:"content" gorm:"not null"`
	LastModified time.Time `json:"last_modified" gorm:"autoUpdateTime"`
}

// UserColour maps a user to their personal colour role in a guild.
type UserColour struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	UserID  string `json:"user_id" gorm:"not null;index"`
	GuildID string `json:"guild_id" gorm:"not null;index"`
	RoleID  string `json:"role_id" gorm:"not null;unique"`
}

// RoleState is a snapshot of a user's roles and nickname in a guild,
// taken when they leave so both can be restored if they come back.
type RoleState struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	UserID  string `json:"user_id" gorm:"index"`
	GuildID string `json:"guild_id" gorm:"not null;index"`

	Roles IDList `json:"roles" gorm:"type:string"`
	Nick  string `json:"nick"`
}

func (r *RoleState) String() string {
	return fmt.Sprintf(
		"<RoleState user_id=%s guild_id=%s nick=%q roles=%v>",
		r.UserID, r.GuildID, r.Nick, r.Roles,
	)
}

// Setting is an arbitrary named per-guild setting with a structured
// JSON value.
type Setting struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	Name    string `json:"name" gorm:"not null"`
	Value   string `json:"value" gorm:"not null"`
	GuildID string `json:"guild_id" gorm:"not null;index"`
}

// EventSetting configures one event listener (welcome message, leave
// message, and so on) for a guild.
type EventSetting struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	GuildID string `json:"guild_id" gorm:"index"`

	Enabled   bool   `json:"enabled" gorm:"not null;default:false"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	ChannelID string `json:"channel_id" gorm:"not null"`
}

// IgnoreRule suppresses bot behavior of the given kind in a channel.
// The message intake gate consults these before dispatching commands.
type IgnoreRule struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	GuildID   string `json:"guild_id" gorm:"index"`
	ChannelID string `json:"channel_id" gorm:"not null;index"`

	// Kind of activity being ignored, e.g. "commands"
	Kind string `json:"kind" gorm:"not null"`
}
