package dto

type CreateTableRequest struct {
	Number   int    `json:"number"`
	Capacity int    `json:"capacity"`
	Location string `json:"location" valid:"length(0|64)"`
}

type MergeTablesRequest struct {
	TableIDs       []string `json:"table_ids"`
	PrimaryTableID string   `json:"primary_table_id" valid:"required,uuid"`
}

type SplitTablesRequest struct {
	PrimaryTableID string `json:"primary_table_id" valid:"required,uuid"`
}
