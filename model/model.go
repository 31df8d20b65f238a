package model

import (
	"bytes"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleRegular Role = "regular"
)

func (r Role) Recognized() bool {
	return r == RoleAdmin || r == RoleRegular
}

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

func (s UserStatus) Recognized() bool {
	return s == UserActive || s == UserSuspended
}

type User struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type TemplateStatus string

const (
	TemplateDraft      TemplateStatus = "draft"
	TemplatePublished  TemplateStatus = "published"
	TemplateRestricted TemplateStatus = "restricted"
)

func (s TemplateStatus) Recognized() bool {
	return s == TemplateDraft || s == TemplatePublished || s == TemplateRestricted
}

type BlockType string

const (
	BlockShortText      BlockType = "short-text"
	BlockParagraph      BlockType = "paragraph"
	BlockMultipleChoice BlockType = "multiple-choice"
)

func (t BlockType) Recognized() bool {
	return t == BlockShortText || t == BlockParagraph || t == BlockMultipleChoice
}

type OptionsMode string

const (
	OptionsCheckbox OptionsMode = "checkbox"
	OptionsRadio    OptionsMode = "radio"
	OptionsDropdown OptionsMode = "dropdown"
)

func (m OptionsMode) Recognized() bool {
	return m == OptionsCheckbox || m == OptionsRadio || m == OptionsDropdown
}

// Block is one question definition within a template. OptionsMode and
// Options are populated iff Type is multiple-choice.
type Block struct {
	ID          string      `json:"id"`
	Type        BlockType   `json:"type"`
	Question    string      `json:"question"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	OptionsMode OptionsMode `json:"optionsMode,omitempty"`
	Options     []string    `json:"options,omitempty"`
}

type Template struct {
	ID          int64          `json:"id"`
	AuthorID    int64          `json:"authorId"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Image       string         `json:"image,omitempty"`
	Status      TemplateStatus `json:"status"`
	Version     int            `json:"version"`
	Blocks      []Block        `json:"blocks"`
	Admins      []int64        `json:"admins"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// IsAdmin reports whether userID is in the template's collaborator set.
// The author is not stored in the set; authorship is checked separately.
func (t Template) IsAdmin(userID int64) bool {
	for _, id := range t.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

type Form struct {
	ID         int64     `json:"id"`
	TemplateID int64     `json:"templateId"`
	UserID     int64     `json:"userId"`
	Answers    []Answer  `json:"answers"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Answer holds one response to a block. Question and Type echo the block at
// submission time, denormalized for audit.
type Answer struct {
	QuestionID string      `json:"questionId"`
	Question   string      `json:"question,omitempty"`
	Type       BlockType   `json:"type,omitempty"`
	Value      AnswerValue `json:"answer"`
}

// AnswerValue is a single string for short-text/paragraph blocks, or a list
// of strings for multiple-choice blocks. On the wire it is a bare string or
// a JSON string array.
type AnswerValue struct {
	Multi   bool
	Text    string
	Choices []string
}

func TextValue(text string) AnswerValue {
	return AnswerValue{Text: text}
}

func ChoiceValue(choices ...string) AnswerValue {
	return AnswerValue{Multi: true, Choices: choices}
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.Multi {
		if v.Choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Choices)
	}
	return json.Marshal(v.Text)
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		v.Multi = true
		v.Text = ""
		return json.Unmarshal(data, &v.Choices)
	}
	v.Multi = false
	v.Choices = nil
	return json.Unmarshal(data, &v.Text)
}
