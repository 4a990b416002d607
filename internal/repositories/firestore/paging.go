package firestore

import (
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/pagination"
)

type pageCursor = pagination.Cursor

func clampPageSize(size int) int {
	return pagination.ClampPageSize(size, pagination.Options{})
}

func decodePageToken(encoded string) (*pageCursor, error) {
	return pagination.DecodeToken(encoded)
}

func trimPage[T any](items []T, pageSize int, cursorOf func(T) pageCursor) ([]T, string, error) {
	return pagination.Trim(items, pageSize, cursorOf)
}
