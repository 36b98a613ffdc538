package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// taskRecord is the gorm model for the tasks table. OwnerID is nullable so
// that unowned rows stay distinguishable from owned ones.
type taskRecord struct {
	ID        string `gorm:"primaryKey;size:26"`
	Title     string `gorm:"not null"`
	Completed bool   `gorm:"not null;default:false"`
	Priority  string `gorm:"not null;default:Low"`
	DueDate   *time.Time
	OwnerID   *string   `gorm:"index:idx_tasks_owner_created,priority:1"`
	CreatedAt time.Time `gorm:"index:idx_tasks_owner_created,priority:2"`
	UpdatedAt time.Time
}

func (taskRecord) TableName() string { return "tasks" }

func (rec taskRecord) task() Task {
	t := Task{
		ID:        rec.ID,
		Title:     rec.Title,
		Completed: rec.Completed,
		Priority:  Priority(rec.Priority),
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: rec.UpdatedAt.UTC(),
	}
	if rec.OwnerID != nil {
		t.OwnerID = *rec.OwnerID
	}
	if rec.DueDate != nil {
		due := rec.DueDate.UTC()
		t.DueDate = &due
	}
	return t
}

type SQLiteRepository struct {
	DB    *gorm.DB
	NewID func() string
}

func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{
		DB:    db,
		NewID: func() string { return ulid.Make().String() },
	}
}

func (r *SQLiteRepository) AutoMigrate() error {
	return r.DB.AutoMigrate(&taskRecord{})
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *SQLiteRepository) Insert(ctx context.Context, task Task) (Task, error) {
	if task.ID == "" {
		task.ID = r.NewID()
	}
	rec := taskRecord{
		ID:        task.ID,
		Title:     task.Title,
		Completed: task.Completed,
		Priority:  string(task.Priority),
		DueDate:   task.DueDate,
		OwnerID:   nullableOwner(task.OwnerID),
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return Task{}, err
	}
	return rec.task(), nil
}

func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]Task, error) {
	if f.Empty() {
		return []Task{}, nil
	}
	var recs []taskRecord
	err := r.scoped(r.DB.WithContext(ctx), f).
		Order("created_at DESC").
		Order("id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	result := make([]Task, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.task())
	}
	return result, nil
}

func (r *SQLiteRepository) Find(ctx context.Context, id string, f Filter) (Task, error) {
	if f.Empty() {
		return Task{}, ErrNotFound
	}
	rec, err := r.first(r.DB.WithContext(ctx), id, f)
	if err != nil {
		return Task{}, err
	}
	return rec.task(), nil
}

// Update writes the changes with the ownership filter in the WHERE clause and
// reads the row back inside the same transaction.
func (r *SQLiteRepository) Update(ctx context.Context, id string, f Filter, c Changes) (Task, error) {
	if f.Empty() {
		return Task{}, ErrNotFound
	}
	var out taskRecord
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := r.scoped(tx.Model(&taskRecord{}), f).
			Where("id = ?", id).
			Updates(changeColumns(c))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		rec, err := r.first(tx, id, OwnedBy(ownerAfter(f, c)))
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return out.task(), nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string, f Filter) error {
	if f.Empty() {
		return ErrNotFound
	}
	res := r.scoped(r.DB.WithContext(ctx), f).Where("id = ?", id).Delete(&taskRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) scoped(db *gorm.DB, f Filter) *gorm.DB {
	return db.Where("(owner_id = ? OR owner_id IS NULL)", f.CallerID)
}

func (r *SQLiteRepository) first(db *gorm.DB, id string, f Filter) (taskRecord, error) {
	var rec taskRecord
	err := r.scoped(db, f).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return taskRecord{}, ErrNotFound
		}
		return taskRecord{}, err
	}
	return rec, nil
}

func ownerAfter(f Filter, c Changes) string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return f.CallerID
}

func changeColumns(c Changes) map[string]any {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	cols := map[string]any{"updated_at": updatedAt}
	if c.Title != nil {
		cols["title"] = *c.Title
	}
	if c.Priority != nil {
		cols["priority"] = string(*c.Priority)
	}
	if c.ClearDueDate {
		cols["due_date"] = nil
	} else if c.DueDate != nil {
		cols["due_date"] = *c.DueDate
	}
	if c.Completed != nil {
		cols["completed"] = *c.Completed
	}
	if c.OwnerID != "" {
		cols["owner_id"] = c.OwnerID
	}
	return cols
}
