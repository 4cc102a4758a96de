package catalog

import (
	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

const (
	ToolsCollection       = "tools"
	SharedToolsCollection = "sharedTools"
)

// toolDoc is the stored form of a tool. Icon is stored as null when absent.
func toolDoc(t models.Tool) docstore.Doc {
	var icon any
	if t.Icon != "" {
		icon = t.Icon
	}
	return docstore.Doc{
		"id":             t.ID,
		"name":           t.Name,
		"icon":           icon,
		"category":       string(t.Category),
		"subCategory":    string(t.SubCategory),
		"tooltip":        t.Tooltip,
		"installCommand": t.InstallCommand,
		"zshrcCommand":   t.ZshrcCommand,
		"description":    t.Description,
		"downloadUrl":    t.DownloadURL,
		"hasSettings":    t.HasSettings,
		"isShared":       t.IsShared,
		"starCount":      t.StarCount,
		"userId":         t.UserID,
		"createdAt":      t.CreatedAt,
		"updatedAt":      t.UpdatedAt,
	}
}

func toolFromDoc(d docstore.Doc) models.Tool {
	return models.Tool{
		ID:             d.String("id"),
		Name:           d.String("name"),
		Icon:           d.String("icon"),
		Category:       models.Category(d.String("category")),
		SubCategory:    models.SubCategory(d.String("subCategory")),
		Tooltip:        d.String("tooltip"),
		InstallCommand: d.String("installCommand"),
		ZshrcCommand:   d.String("zshrcCommand"),
		Description:    d.String("description"),
		DownloadURL:    d.String("downloadUrl"),
		HasSettings:    d.Bool("hasSettings"),
		IsShared:       d.Bool("isShared"),
		StarCount:      max(d.Int("starCount"), 0),
		UserID:         d.String("userId"),
		CreatedAt:      d.Time("createdAt"),
		UpdatedAt:      d.Time("updatedAt"),
	}
}

// patchDoc lists only the fields the patch touches, plus updatedAt.
func patchDoc(p models.ToolPatch, merged models.Tool) docstore.Doc {
	full := toolDoc(merged)
	fields := docstore.Doc{"updatedAt": full["updatedAt"]}
	set := func(touched bool, keys ...string) {
		if !touched {
			return
		}
		for _, k := range keys {
			fields[k] = full[k]
		}
	}
	set(p.Name != nil, "name")
	set(p.Icon != nil, "icon")
	set(p.Category != nil, "category", "subCategory")
	set(p.SubCategory != nil, "subCategory")
	set(p.Tooltip != nil, "tooltip")
	set(p.InstallCommand != nil, "installCommand")
	set(p.ZshrcCommand != nil, "zshrcCommand")
	set(p.Description != nil, "description")
	set(p.DownloadURL != nil, "downloadUrl")
	set(p.HasSettings != nil, "hasSettings")
	set(p.IsShared != nil, "isShared")
	set(p.StarCount != nil, "starCount")
	return fields
}
