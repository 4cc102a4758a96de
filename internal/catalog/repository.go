package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

// Repository persists tools in the owner collection and keeps the public
// mirror in step. Every owner+mirror pair goes through a single Apply.
type Repository struct {
	store docstore.Store
}

func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// ListByOwner returns the owner's tools oldest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]models.Tool, error) {
	docs, err := r.store.Query(ctx, ToolsCollection, docstore.Eq("userId", ownerID))
	if err != nil {
		return nil, fmt.Errorf("list tools for %s: %w", ownerID, err)
	}
	return sortedTools(docs), nil
}

// ListPublic returns every tool in the public mirror.
func (r *Repository) ListPublic(ctx context.Context) ([]models.Tool, error) {
	docs, err := r.store.Query(ctx, SharedToolsCollection)
	if err != nil {
		return nil, fmt.Errorf("list shared tools: %w", err)
	}
	return sortedTools(docs), nil
}

// Get loads one owner record.
func (r *Repository) Get(ctx context.Context, id string) (models.Tool, error) {
	doc, err := r.store.Get(ctx, ToolsCollection, id)
	if err != nil {
		return models.Tool{}, err
	}
	return toolFromDoc(doc), nil
}

// Create writes the owner record and, for a shared tool, its mirror.
func (r *Repository) Create(ctx context.Context, t models.Tool) error {
	writes := []docstore.Write{docstore.Set(ToolsCollection, t.ID, toolDoc(t))}
	if t.IsShared {
		writes = append(writes, docstore.Set(SharedToolsCollection, t.ID, toolDoc(t)))
	}
	if err := r.store.Apply(ctx, writes...); err != nil {
		return fmt.Errorf("create tool %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes the owner record and retracts the mirror. Retracting a
// tool that was never mirrored is a no-op.
func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.store.Apply(ctx,
		docstore.Delete(ToolsCollection, id),
		docstore.Delete(SharedToolsCollection, id),
	)
	if err != nil {
		return fmt.Errorf("delete tool %s: %w", id, err)
	}
	return nil
}

// Update merges the patch into the owner record. The mirror is inserted
// when isShared turns on, retracted when it turns off and refreshed while
// it stays on.
func (r *Repository) Update(ctx context.Context, before models.Tool, patch models.ToolPatch, after models.Tool) error {
	writes := []docstore.Write{docstore.Update(ToolsCollection, before.ID, patchDoc(patch, after))}
	switch {
	case after.IsShared:
		writes = append(writes, docstore.Set(SharedToolsCollection, after.ID, toolDoc(after)))
	case before.IsShared && !after.IsShared:
		writes = append(writes, docstore.Delete(SharedToolsCollection, after.ID))
	}
	if err := r.store.Apply(ctx, writes...); err != nil {
		return fmt.Errorf("update tool %s: %w", before.ID, err)
	}
	return nil
}

func sortedTools(docs []docstore.Doc) []models.Tool {
	tools := make([]models.Tool, 0, len(docs))
	for _, d := range docs {
		tools = append(tools, toolFromDoc(d))
	}
	sort.SliceStable(tools, func(i, j int) bool {
		if !tools[i].CreatedAt.Equal(tools[j].CreatedAt) {
			return tools[i].CreatedAt.Before(tools[j].CreatedAt)
		}
		return tools[i].ID < tools[j].ID
	})
	return tools
}
