package models

// Category is the top-level board a tool is rendered on.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryDev         Category = "dev"
	CategoryAdvanced    Category = "advanced"
	CategoryRequirement Category = "requirement"
	CategoryZshPlugin   Category = "zsh-plugin"
	CategoryAdditional  Category = "additional"
)

// SubCategory partitions the advanced board.
// SubCategoryNone is a stored value; the empty string means "not set".
type SubCategory string

const (
	SubCategoryRequirement SubCategory = "requirement"
	SubCategoryZshPlugin   SubCategory = "zsh-plugin"
	SubCategoryAdditional  SubCategory = "additional"
	SubCategoryNone        SubCategory = "none"
)

var categories = map[Category]bool{
	CategoryGeneral:     true,
	CategoryDev:         true,
	CategoryAdvanced:    true,
	CategoryRequirement: true,
	CategoryZshPlugin:   true,
	CategoryAdditional:  true,
}

var subCategories = map[SubCategory]bool{
	SubCategoryRequirement: true,
	SubCategoryZshPlugin:   true,
	SubCategoryAdditional:  true,
	SubCategoryNone:        true,
}

// Valid reports whether c is one of the closed category values.
func (c Category) Valid() bool { return categories[c] }

// Valid reports whether s is one of the closed sub-category values.
func (s SubCategory) Valid() bool { return subCategories[s] }
