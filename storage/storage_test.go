package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskforge-board/domain"
)

type fakeTable struct {
	entities     [][]byte
	filters      []string
	updates      []*aztables.UpdateEntityOptions
	transactions [][]aztables.TransactionAction
	updateErr    error
	txErr        error
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.entities = append(f.entities, entity)
	return aztables.AddEntityResponse{ETag: azcore.ETag("W/\"1\"")}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.updates = append(f.updates, options)
	if f.updateErr != nil {
		return aztables.UpdateEntityResponse{}, f.updateErr
	}
	return aztables.UpdateEntityResponse{ETag: azcore.ETag("W/\"2\"")}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	return aztables.DeleteEntityResponse{}, f.updateErr
}

func (f *fakeTable) NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	if listOptions != nil && listOptions.Filter != nil {
		f.filters = append(f.filters, *listOptions.Filter)
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(page aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, page *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			return aztables.ListEntitiesResponse{Entities: f.entities}, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, to *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.transactions = append(f.transactions, actions)
	return aztables.TransactionResponse{}, f.txErr
}

func TestTaskEntityCarriesODataTypes(t *testing.T) {
	due := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := encodeTask(domain.Task{
		ID: "t1", ProjectID: "p1", BoardID: "b1", ColumnID: "todo",
		Title: "Write", Status: domain.StatusTodo, Priority: domain.PriorityHigh,
		Position: 2, DueDate: &due, Labels: []string{"api"},
		CreatedAt: due,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(payload)
	for _, want := range []string{
		`"PartitionKey":"p1"`,
		`"RowKey":"t1"`,
		`"Position@odata.type":"Edm.Double"`,
		`"DueDate@odata.type":"Edm.Int64"`,
		`"CreatedAt@odata.type":"Edm.Int64"`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("payload %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "CompletedAt") || strings.Contains(s, "odata.etag") {
		t.Fatalf("unset optional fields must be omitted: %s", s)
	}
}

func TestDecodeTaskReadsETagAndTimestamps(t *testing.T) {
	data := []byte(`{"odata.etag":"W/\"datetime'x'\"","PartitionKey":"p1","RowKey":"t1","BoardId":"b1","ColumnId":"done","Title":"Ship","Status":"done","Priority":"urgent","Position":3,"Archived":false,"CompletedAt":"1700000000000000000","CreatedAt":"1690000000000000000","UpdatedAt":"1700000000000000000","Labels":"[\"a\",\"b\"]"}`)
	task, err := decodeTask(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ETag != `W/"datetime'x'"` {
		t.Fatalf("unexpected etag %q", task.ETag)
	}
	if task.ProjectID != "p1" || task.BoardID != "b1" || task.Position != 3 {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.CompletedAt == nil || task.CompletedAt.UnixNano() != 1700000000000000000 {
		t.Fatalf("unexpected completedAt %v", task.CompletedAt)
	}
	if task.DueDate != nil || task.ArchivedAt != nil {
		t.Fatalf("absent timestamps should stay nil")
	}
	if len(task.Labels) != 2 {
		t.Fatalf("unexpected labels %v", task.Labels)
	}
}

func TestTaskFilter(t *testing.T) {
	got := taskFilter(domain.TaskQuery{ProjectID: "p'1", BoardID: "b1", ColumnID: "todo"})
	want := "PartitionKey eq 'p''1' and BoardId eq 'b1' and ColumnId eq 'todo' and Archived eq false"
	if got != want {
		t.Fatalf("filter = %q, want %q", got, want)
	}
	got = taskFilter(domain.TaskQuery{BoardID: "b1", IncludeArchived: true})
	if got != "BoardId eq 'b1'" {
		t.Fatalf("unexpected filter %q", got)
	}
}

func TestGetBoardNotFound(t *testing.T) {
	ft := &fakeTable{}
	s := &Storage{boardTable: ft, taskTable: &fakeTable{}}
	if _, err := s.GetBoard(context.Background(), "b1"); !errors.Is(err, domain.ErrBoardNotFound) {
		t.Fatalf("expected ErrBoardNotFound, got %v", err)
	}
	if len(ft.filters) != 1 || ft.filters[0] != "RowKey eq 'b1'" {
		t.Fatalf("unexpected filters %v", ft.filters)
	}
}

func TestUpdateBoardUsesETag(t *testing.T) {
	ft := &fakeTable{}
	s := &Storage{boardTable: ft, taskTable: &fakeTable{}}
	b, err := s.UpdateBoard(context.Background(), domain.Board{ID: "b1", ProjectID: "p1", ETag: "W/\"1\""})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.ETag != "W/\"2\"" {
		t.Fatalf("expected refreshed etag, got %q", b.ETag)
	}
	opts := ft.updates[0]
	if opts.IfMatch == nil || *opts.IfMatch != azcore.ETag("W/\"1\"") {
		t.Fatalf("expected IfMatch with the read etag, got %v", opts.IfMatch)
	}
	if opts.UpdateMode != aztables.UpdateModeReplace {
		t.Fatalf("expected replace mode, got %v", opts.UpdateMode)
	}
}

func TestUpdateBoardMapsPreconditionFailure(t *testing.T) {
	ft := &fakeTable{updateErr: &azcore.ResponseError{StatusCode: 412}}
	s := &Storage{boardTable: ft, taskTable: &fakeTable{}}
	_, err := s.UpdateBoard(context.Background(), domain.Board{ID: "b1", ProjectID: "p1", ETag: "x"})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}

	ft.updateErr = &azcore.ResponseError{StatusCode: 404}
	_, err = s.UpdateBoard(context.Background(), domain.Board{ID: "b1", ProjectID: "p1", ETag: "x"})
	if !errors.Is(err, domain.ErrBoardNotFound) {
		t.Fatalf("expected board not found, got %v", err)
	}
}

func TestCommitTasksChunksTransactions(t *testing.T) {
	ft := &fakeTable{}
	s := &Storage{boardTable: &fakeTable{}, taskTable: ft}

	var batch domain.TaskBatch
	for i := 0; i < 150; i++ {
		batch.Updates = append(batch.Updates, domain.Task{ID: string(rune('a'+i%26)) + string(rune('0'+i/26)), ProjectID: "p1", ETag: "e"})
	}
	batch.Deletes = []domain.Task{{ID: "gone", ProjectID: "p2", ETag: "e"}}

	if err := s.CommitTasks(context.Background(), batch); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(ft.transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(ft.transactions))
	}
	if len(ft.transactions[0]) != maxTransactionActions || len(ft.transactions[1]) != 50 {
		t.Fatalf("unexpected chunk sizes %d/%d", len(ft.transactions[0]), len(ft.transactions[1]))
	}
	del := ft.transactions[2][0]
	if del.ActionType != aztables.TransactionTypeDelete || del.IfMatch == nil || *del.IfMatch != azcore.ETag("e") {
		t.Fatalf("unexpected delete action %+v", del)
	}
	for _, a := range ft.transactions[0] {
		if a.ActionType != aztables.TransactionTypeUpdateReplace {
			t.Fatalf("unexpected action type %v", a.ActionType)
		}
	}
}

func TestCommitTasksMapsTransactionConflict(t *testing.T) {
	ft := &fakeTable{txErr: &azcore.ResponseError{StatusCode: 412}}
	s := &Storage{boardTable: &fakeTable{}, taskTable: ft}
	batch := domain.TaskBatch{Updates: []domain.Task{{ID: "a", ProjectID: "p1"}, {ID: "b", ProjectID: "p1"}}}
	if err := s.CommitTasks(context.Background(), batch); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestCommitSingleTaskUsesUpdateEntity(t *testing.T) {
	ft := &fakeTable{}
	s := &Storage{boardTable: &fakeTable{}, taskTable: ft}
	err := s.CommitTasks(context.Background(), domain.TaskBatch{Updates: []domain.Task{{ID: "a", ProjectID: "p1", ETag: "e1"}}})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(ft.transactions) != 0 || len(ft.updates) != 1 {
		t.Fatalf("single write should not use a transaction")
	}
}

func TestListTasksDecodesAndSorts(t *testing.T) {
	ft := &fakeTable{entities: [][]byte{
		[]byte(`{"PartitionKey":"p1","RowKey":"t2","BoardId":"b1","ColumnId":"todo","Position":1,"CreatedAt":"1","UpdatedAt":"1"}`),
		[]byte(`{"PartitionKey":"p1","RowKey":"t1","BoardId":"b1","ColumnId":"todo","Position":0,"CreatedAt":"1","UpdatedAt":"1"}`),
	}}
	s := &Storage{boardTable: &fakeTable{}, taskTable: ft}
	tasks, err := s.ListTasks(context.Background(), domain.TaskQuery{ProjectID: "p1", BoardID: "b1", ColumnID: "todo"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "t1" || tasks[1].ID != "t2" {
		t.Fatalf("unexpected order %+v", tasks)
	}
}
