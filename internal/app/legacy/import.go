// Package legacy seeds ownerless tasks from a YAML export. Imported tasks
// are visible to every caller until someone claims them with an update.
package legacy

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/tasktracker/project/internal/app/tasks"
	"gopkg.in/yaml.v3"
)

type Record struct {
	Title     string `yaml:"title"`
	Priority  string `yaml:"priority"`
	DueDate   string `yaml:"dueDate"`
	Completed bool   `yaml:"completed"`
}

type File struct {
	Tasks []Record `yaml:"tasks"`
}

func Parse(r io.Reader) ([]Record, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode legacy file: %w", err)
	}
	return f.Tasks, nil
}

// Normalize validates a record the same way task creation does, but leaves
// the owner empty.
func Normalize(rec Record, now time.Time) (tasks.Task, error) {
	title := strings.TrimSpace(rec.Title)
	if title == "" {
		return tasks.Task{}, tasks.ErrTitleRequired
	}
	priority, err := tasks.ParsePriority(rec.Priority)
	if err != nil {
		return tasks.Task{}, err
	}
	due, err := tasks.ParseDueDate(rec.DueDate)
	if err != nil {
		return tasks.Task{}, err
	}
	return tasks.Task{
		Title:     title,
		Priority:  priority,
		DueDate:   due,
		Completed: rec.Completed,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type Result struct {
	Imported int
	Skipped  int
}

type Importer struct {
	Repo        tasks.Repository
	Log         *logrus.Entry
	Concurrency int
	Now         func() time.Time
}

func NewImporter(repo tasks.Repository, log *logrus.Entry) *Importer {
	return &Importer{
		Repo:        repo,
		Log:         log,
		Concurrency: 8,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Import inserts every valid record. Invalid records are logged and skipped;
// the first store error stops the import.
func (im *Importer) Import(ctx context.Context, records []Record) (Result, error) {
	workers := im.Concurrency
	if workers <= 0 {
		workers = 1
	}
	var imported, skipped atomic.Int64

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for i, rec := range records {
		i, rec := i, rec
		p.Go(func(ctx context.Context) error {
			task, err := Normalize(rec, im.Now())
			if err != nil {
				skipped.Add(1)
				im.Log.WithError(err).WithField("index", i).Warn("skipping legacy task")
				return nil
			}
			if _, err := im.Repo.Insert(ctx, task); err != nil {
				return fmt.Errorf("insert legacy task %d: %w", i, err)
			}
			imported.Add(1)
			return nil
		})
	}
	err := p.Wait()
	return Result{Imported: int(imported.Load()), Skipped: int(skipped.Load())}, err
}
