package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry stores box rows: id, store location and metadata.
type Registry struct {
	db     *gorm.DB
	router *Router
	logger *slog.Logger
}

// ListBoxes returns every registered box.
func (r *Registry) ListBoxes(ctx context.Context) ([]Box, error) {
	var boxes []Box
	err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&boxes).Error
	r.router.observe("list_boxes", err)
	if err != nil {
		r.logger.Error("failed to list boxes", "error", err)
		return nil, storageError("list boxes", err)
	}
	return boxes, nil
}

// GetBox returns the box or ErrBoxNotFound.
func (r *Registry) GetBox(ctx context.Context, id string) (*Box, error) {
	var box Box
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&box).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.router.observe("get_box", nil)
		return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
	}
	r.router.observe("get_box", err)
	if err != nil {
		r.logger.Error("failed to get box", "box_id", id, "error", err)
		return nil, storageError("get box", err)
	}
	return &box, nil
}

// RegisterBox inserts a registry row, failing with ErrConflict if the id exists.
func (r *Registry) RegisterBox(ctx context.Context, id, location string, md Metadata) (*Box, error) {
	if id == "" {
		return nil, Required("id")
	}
	if location == "" {
		return nil, Required("database_path")
	}
	data, err := encodeMetadata(md)
	if err != nil {
		return nil, err
	}

	box := &Box{ID: id, DatabasePath: location, Data: data}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(box)
	r.router.observe("register_box", res.Error)
	if res.Error != nil {
		r.logger.Error("failed to register box", "box_id", id, "error", res.Error)
		return nil, storageError("register box", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: box %s already registered", ErrConflict, id)
	}
	return r.GetBox(ctx, id)
}

// UpdateBoxMetadata replaces the metadata of a box wholesale.
func (r *Registry) UpdateBoxMetadata(ctx context.Context, id string, md Metadata) (*Box, error) {
	data, err := encodeMetadata(md)
	if err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).Model(&Box{}).Where("id = ?", id).Updates(map[string]interface{}{
		"data":       data,
		"updated_at": r.db.NowFunc(),
	})
	r.router.observe("update_box", res.Error)
	if res.Error != nil {
		r.logger.Error("failed to update box", "box_id", id, "error", res.Error)
		return nil, storageError("update box", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
	}
	return r.GetBox(ctx, id)
}

// DeleteBox removes the registry row and returns it. The dedicated store is
// left to the caller; see RemoveBox.
func (r *Registry) DeleteBox(ctx context.Context, id string) (*Box, error) {
	box, err := r.GetBox(ctx, id)
	if err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Box{})
	r.router.observe("delete_box", res.Error)
	if res.Error != nil {
		r.logger.Error("failed to delete box", "box_id", id, "error", res.Error)
		return nil, storageError("delete box", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
	}
	return box, nil
}

// CreateBox allocates an id, initializes the dedicated store and registers
// the box. A registry failure disposes the store again.
func (r *Registry) CreateBox(ctx context.Context, md Metadata) (*Box, error) {
	if _, err := encodeMetadata(md); err != nil {
		return nil, err
	}

	id := r.router.nextID()
	location, err := r.router.Initialize(ctx, id)
	if err != nil {
		r.logger.Error("failed to initialize box store", "box_id", id, "error", err)
		return nil, err
	}

	box, err := r.RegisterBox(ctx, id, location, md)
	if err != nil {
		if derr := r.router.Dispose(ctx, location); derr != nil {
			r.logger.Error("failed to roll back box store", "box_id", id, "location", location, "error", derr)
		}
		if r.router.metrics != nil {
			r.router.metrics.BoxLifecycle.WithLabelValues("rolled_back").Inc()
		}
		return nil, err
	}

	r.logger.Info("box created", "box_id", id, "location", location)
	return box, nil
}

// RemoveBox deletes the registry row, then disposes the dedicated store.
func (r *Registry) RemoveBox(ctx context.Context, id string) (*Box, error) {
	box, err := r.DeleteBox(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.router.Dispose(ctx, box.DatabasePath); err != nil {
		r.logger.Error("box unregistered but store not disposed", "box_id", id, "location", box.DatabasePath, "error", err)
		return box, err
	}

	r.logger.Info("box removed", "box_id", id)
	return box, nil
}

// OpenBox resolves a registered box and its store.
func (r *Registry) OpenBox(ctx context.Context, id string) (*Box, *BoxStore, error) {
	box, err := r.GetBox(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	store, err := r.router.Open(ctx, box.DatabasePath)
	if errors.Is(err, ErrNotFound) {
		// Removed between the lookup and the open.
		return nil, nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
	}
	if err != nil {
		r.logger.Error("failed to open box store", "box_id", id, "error", err)
		return nil, nil, err
	}
	return box, store, nil
}

func encodeMetadata(md Metadata) (datatypes.JSON, error) {
	if md == nil {
		md = Metadata{}
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, Invalid("metadata", "must be a JSON object")
	}
	return datatypes.JSON(b), nil
}
