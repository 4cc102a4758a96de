package catalog

import (
	"strings"

	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

// Search matches q case-insensitively against name, download URL and
// description. A blank query returns nothing rather than everything.
func Search(tools []models.Tool, q string) []models.Tool {
	out := []models.Tool{}
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return out
	}
	for _, t := range tools {
		if matches(t, needle) {
			out = append(out, t)
		}
	}
	return out
}

// matches checks each field on its own so a query never spans two fields.
func matches(t models.Tool, needle string) bool {
	for _, field := range []string{t.Name, t.DownloadURL, t.Description} {
		if field != "" && strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
