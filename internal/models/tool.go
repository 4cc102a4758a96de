package models

import (
	"strings"
	"time"
)

// Tool is a single catalog entry owned by one user.
type Tool struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Icon           string      `json:"icon,omitempty"`
	Category       Category    `json:"category"`
	SubCategory    SubCategory `json:"subCategory"`
	Tooltip        string      `json:"tooltip,omitempty"`
	InstallCommand string      `json:"installCommand,omitempty"`
	ZshrcCommand   string      `json:"zshrcCommand,omitempty"`
	Description    string      `json:"description,omitempty"`
	DownloadURL    string      `json:"downloadUrl,omitempty"`
	HasSettings    bool        `json:"hasSettings"`
	IsShared       bool        `json:"isShared"`
	StarCount      int         `json:"starCount"`
	UserID         string      `json:"userId"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`

	// Pending marks an optimistic placeholder that has not been confirmed by the store.
	Pending bool `json:"pending,omitempty"`
}

// Validate checks the tool invariants.
func (t *Tool) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Message: "Name is required"}
	}
	if !t.Category.Valid() {
		return &ValidationError{Field: "category", Message: "Unknown category"}
	}
	if t.SubCategory != "" && !t.SubCategory.Valid() {
		return &ValidationError{Field: "subCategory", Message: "Unknown sub-category"}
	}
	if t.Category == CategoryAdvanced && (t.SubCategory == "" || t.SubCategory == SubCategoryNone) {
		return &ValidationError{Field: "subCategory", Message: "Advanced tools need a sub-category"}
	}
	if t.StarCount < 0 {
		return &ValidationError{Field: "starCount", Message: "Star count cannot be negative"}
	}
	return nil
}

// ToolDraft is the input for adding a tool.
type ToolDraft struct {
	Name           string      `json:"name"`
	Icon           string      `json:"icon,omitempty"`
	Category       Category    `json:"category"`
	SubCategory    SubCategory `json:"subCategory,omitempty"`
	Tooltip        string      `json:"tooltip,omitempty"`
	InstallCommand string      `json:"installCommand,omitempty"`
	ZshrcCommand   string      `json:"zshrcCommand,omitempty"`
	Description    string      `json:"description,omitempty"`
	DownloadURL    string      `json:"downloadUrl,omitempty"`
	HasSettings    bool        `json:"hasSettings,omitempty"`
	IsShared       bool        `json:"isShared,omitempty"`
}

// Materialize builds a tool from the draft, filling defaults.
func (d ToolDraft) Materialize(id, userID string, now time.Time) Tool {
	sub := d.SubCategory
	if sub == "" {
		sub = SubCategoryNone
	}
	return Tool{
		ID:             id,
		Name:           strings.TrimSpace(d.Name),
		Icon:           strings.TrimSpace(d.Icon),
		Category:       d.Category,
		SubCategory:    sub,
		Tooltip:        d.Tooltip,
		InstallCommand: d.InstallCommand,
		ZshrcCommand:   d.ZshrcCommand,
		Description:    d.Description,
		DownloadURL:    strings.TrimSpace(d.DownloadURL),
		HasSettings:    d.HasSettings,
		IsShared:       d.IsShared,
		StarCount:      0,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ToolPatch carries the fields of a partial update. Nil means unchanged.
type ToolPatch struct {
	Name           *string      `json:"name,omitempty"`
	Icon           *string      `json:"icon,omitempty"`
	Category       *Category    `json:"category,omitempty"`
	SubCategory    *SubCategory `json:"subCategory,omitempty"`
	Tooltip        *string      `json:"tooltip,omitempty"`
	InstallCommand *string      `json:"installCommand,omitempty"`
	ZshrcCommand   *string      `json:"zshrcCommand,omitempty"`
	Description    *string      `json:"description,omitempty"`
	DownloadURL    *string      `json:"downloadUrl,omitempty"`
	HasSettings    *bool        `json:"hasSettings,omitempty"`
	IsShared       *bool        `json:"isShared,omitempty"`
	StarCount      *int         `json:"starCount,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ToolPatch) Empty() bool {
	return p.Name == nil && p.Icon == nil && p.Category == nil && p.SubCategory == nil &&
		p.Tooltip == nil && p.InstallCommand == nil && p.ZshrcCommand == nil &&
		p.Description == nil && p.DownloadURL == nil && p.HasSettings == nil &&
		p.IsShared == nil && p.StarCount == nil
}

// Apply returns a copy of t with the patch merged in.
func (p ToolPatch) Apply(t Tool, now time.Time) Tool {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Icon != nil {
		t.Icon = strings.TrimSpace(*p.Icon)
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.SubCategory != nil {
		t.SubCategory = *p.SubCategory
	}
	if p.Tooltip != nil {
		t.Tooltip = *p.Tooltip
	}
	if p.InstallCommand != nil {
		t.InstallCommand = *p.InstallCommand
	}
	if p.ZshrcCommand != nil {
		t.ZshrcCommand = *p.ZshrcCommand
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.DownloadURL != nil {
		t.DownloadURL = strings.TrimSpace(*p.DownloadURL)
	}
	if p.HasSettings != nil {
		t.HasSettings = *p.HasSettings
	}
	if p.IsShared != nil {
		t.IsShared = *p.IsShared
	}
	if p.StarCount != nil {
		t.StarCount = *p.StarCount
	}
	if t.Category != CategoryAdvanced && t.SubCategory == "" {
		t.SubCategory = SubCategoryNone
	}
	t.UpdatedAt = now
	return t
}

// ValidationError is returned when input fails a required-field check.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
