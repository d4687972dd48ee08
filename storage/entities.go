package storage

import (
	"encoding/json"
	"time"

	"taskforge-board/domain"
)

const (
	edmInt64  = "Edm.Int64"
	edmDouble = "Edm.Double"
)

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// boardEntity is a board row. Boards are partitioned by project.
type boardEntity struct {
	entityKeys
	Name          string `json:"Name"`
	Columns       string `json:"Columns"`
	IsDefault     bool   `json:"IsDefault"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
	ETag          string `json:"odata.etag,omitempty"`
}

// taskEntity is a task row. Tasks share their project's partition so one
// column's writes can be submitted as a single transaction.
type taskEntity struct {
	entityKeys
	BoardID            string   `json:"BoardId"`
	ColumnID           string   `json:"ColumnId"`
	Title              string   `json:"Title"`
	Description        string   `json:"Description,omitempty"`
	Status             string   `json:"Status"`
	Priority           string   `json:"Priority"`
	AssigneeID         string   `json:"AssigneeId,omitempty"`
	CreatorID          string   `json:"CreatorId,omitempty"`
	Labels             string   `json:"Labels,omitempty"`
	EstimatedHours     *float64 `json:"EstimatedHours,omitempty"`
	EstimatedHoursType *string  `json:"EstimatedHours@odata.type,omitempty"`
	DueDate            *int64   `json:"DueDate,omitempty,string"`
	DueDateType        *string  `json:"DueDate@odata.type,omitempty"`
	CompletedAt        *int64   `json:"CompletedAt,omitempty,string"`
	CompletedAtType    *string  `json:"CompletedAt@odata.type,omitempty"`
	Position           float64  `json:"Position"`
	PositionType       string   `json:"Position@odata.type"`
	Archived           bool     `json:"Archived"`
	ArchivedAt         *int64   `json:"ArchivedAt,omitempty,string"`
	ArchivedAtType     *string  `json:"ArchivedAt@odata.type,omitempty"`
	CreatedAt          int64    `json:"CreatedAt,string"`
	CreatedAtType      string   `json:"CreatedAt@odata.type"`
	UpdatedAt          int64    `json:"UpdatedAt,string"`
	UpdatedAtType      string   `json:"UpdatedAt@odata.type"`
	ETag               string   `json:"odata.etag,omitempty"`
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func optNanos(t *time.Time) (*int64, *string) {
	if t == nil {
		return nil, nil
	}
	n := t.UnixNano()
	typ := edmInt64
	return &n, &typ
}

func optTime(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n).UTC()
	return &t
}

func encodeBoard(b domain.Board) ([]byte, error) {
	cols, err := json.Marshal(b.Columns)
	if err != nil {
		return nil, err
	}
	return json.Marshal(boardEntity{
		entityKeys:    entityKeys{PartitionKey: b.ProjectID, RowKey: b.ID},
		Name:          b.Name,
		Columns:       string(cols),
		IsDefault:     b.IsDefault,
		CreatedAt:     nanos(b.CreatedAt),
		CreatedAtType: edmInt64,
		UpdatedAt:     nanos(b.UpdatedAt),
		UpdatedAtType: edmInt64,
	})
}

func decodeBoard(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	var cols []domain.Column
	if ent.Columns != "" {
		if err := json.Unmarshal([]byte(ent.Columns), &cols); err != nil {
			return domain.Board{}, err
		}
	}
	return domain.Board{
		ID:        ent.RowKey,
		ProjectID: ent.PartitionKey,
		Name:      ent.Name,
		Columns:   cols,
		IsDefault: ent.IsDefault,
		CreatedAt: fromNanos(ent.CreatedAt),
		UpdatedAt: fromNanos(ent.UpdatedAt),
		ETag:      ent.ETag,
	}, nil
}

func encodeTask(t domain.Task) ([]byte, error) {
	ent := taskEntity{
		entityKeys:    entityKeys{PartitionKey: t.ProjectID, RowKey: t.ID},
		BoardID:       t.BoardID,
		ColumnID:      t.ColumnID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		AssigneeID:    t.AssigneeID,
		CreatorID:     t.CreatorID,
		Position:      t.Position,
		PositionType:  edmDouble,
		Archived:      t.Archived,
		CreatedAt:     nanos(t.CreatedAt),
		CreatedAtType: edmInt64,
		UpdatedAt:     nanos(t.UpdatedAt),
		UpdatedAtType: edmInt64,
	}
	if len(t.Labels) > 0 {
		labels, err := json.Marshal(t.Labels)
		if err != nil {
			return nil, err
		}
		ent.Labels = string(labels)
	}
	if t.EstimatedHours != nil {
		typ := edmDouble
		ent.EstimatedHours, ent.EstimatedHoursType = t.EstimatedHours, &typ
	}
	ent.DueDate, ent.DueDateType = optNanos(t.DueDate)
	ent.CompletedAt, ent.CompletedAtType = optNanos(t.CompletedAt)
	ent.ArchivedAt, ent.ArchivedAtType = optNanos(t.ArchivedAt)
	return json.Marshal(ent)
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:             ent.RowKey,
		ProjectID:      ent.PartitionKey,
		BoardID:        ent.BoardID,
		ColumnID:       ent.ColumnID,
		Title:          ent.Title,
		Description:    ent.Description,
		Status:         domain.Status(ent.Status),
		Priority:       domain.Priority(ent.Priority),
		AssigneeID:     ent.AssigneeID,
		CreatorID:      ent.CreatorID,
		EstimatedHours: ent.EstimatedHours,
		DueDate:        optTime(ent.DueDate),
		CompletedAt:    optTime(ent.CompletedAt),
		Position:       ent.Position,
		Archived:       ent.Archived,
		ArchivedAt:     optTime(ent.ArchivedAt),
		CreatedAt:      fromNanos(ent.CreatedAt),
		UpdatedAt:      fromNanos(ent.UpdatedAt),
		ETag:           ent.ETag,
	}
	if ent.Labels != "" {
		if err := json.Unmarshal([]byte(ent.Labels), &t.Labels); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}
