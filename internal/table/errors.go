package table

import "errors"

var (
	ErrMissingPartitionKey  = errors.New("missing partition key")
	ErrMissingClusteringKey = errors.New("missing clustering key")
	ErrUnknownColumn        = errors.New("unknown column")
	ErrSchemaNotFound       = errors.New("schema not found")
	ErrPartitionNotFound    = errors.New("partition not found")
)
