package catalog

import (
	"errors"
	"strings"

	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

// ErrUnknownView is returned for a route slug that names no board.
var ErrUnknownView = errors.New("unknown catalog view")

// Selection picks a board. An empty SubCategory means no sub-category
// filter is active.
type Selection struct {
	Category    models.Category    `json:"category"`
	SubCategory models.SubCategory `json:"subCategory,omitempty"`
}

var views = map[string]Selection{
	"general":      {Category: models.CategoryGeneral},
	"dev":          {Category: models.CategoryDev},
	"advanced":     {Category: models.CategoryAdvanced},
	"requirements": {Category: models.CategoryAdvanced, SubCategory: models.SubCategoryRequirement},
	"zsh-plugins":  {Category: models.CategoryAdvanced, SubCategory: models.SubCategoryZshPlugin},
	"additional":   {Category: models.CategoryAdvanced, SubCategory: models.SubCategoryAdditional},
}

// ParseView maps a route slug such as "zsh-plugins" to a selection.
func ParseView(slug string) (Selection, error) {
	sel, ok := views[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return Selection{}, ErrUnknownView
	}
	return sel, nil
}

// FilterByCategory returns the tools on category c, in order.
func FilterByCategory(tools []models.Tool, c models.Category) []models.Tool {
	return Filter(tools, Selection{Category: c})
}

// Filter returns the order-preserving subsequence of tools on the selected
// board. The advanced board has no "all sub-categories" view for the none
// value: selecting SubCategoryNone yields nothing.
func Filter(tools []models.Tool, sel Selection) []models.Tool {
	out := []models.Tool{}
	if sel.Category == models.CategoryAdvanced && sel.SubCategory == models.SubCategoryNone {
		return out
	}
	for _, t := range tools {
		if t.Category != sel.Category {
			continue
		}
		if sel.Category == models.CategoryAdvanced && sel.SubCategory != "" && t.SubCategory != sel.SubCategory {
			continue
		}
		out = append(out, t)
	}
	return out
}
