package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskforge-board/domain"
)

// maxTransactionActions is the Table service limit per batch.
const maxTransactionActions = 100

type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, to *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Storage keeps boards and tasks in Azure Table storage.
type Storage struct {
	boardTable tableClient
	taskTable  tableClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, tasksTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable: svc.NewClient(boardsTable),
		taskTable:  svc.NewClient(tasksTable),
	}, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// mapWriteError turns precondition failures into domain.ErrConcurrencyConflict
// and missing entities into notFound.
func mapWriteError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	switch statusCode(err) {
	case 412:
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	case 404:
		if notFound != nil {
			return notFound
		}
	}
	return err
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func filterEq(field, value string) string {
	return field + " eq " + quote(value)
}

func etagOf(s string) *azcore.ETag {
	if s == "" {
		et := azcore.ETagAny
		return &et
	}
	et := azcore.ETag(s)
	return &et
}

func list(ctx context.Context, client tableClient, filter string, visit func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := visit(e); err != nil {
				return err
			}
		}
	}
	return nil
}
