package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Record(ctx context.Context, entry Entry) (*Transaction, error)
	// RecordTx appends within the caller's transaction.
	RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) (*Transaction, error)
	Get(ctx context.Context, userID, id snowflake.ID) (*Transaction, error)
	ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (ListResponse, error)
}

type ListResponse struct {
	Transactions []*Transaction      `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}
