// disk_usage.go — получение информации об ёмкости диска.
// Платформозависимый код для Unix-подобных систем.
package handlers

import (
	"fmt"
	"syscall"
)

// DiskUsage — ёмкость файловой системы каталога в байтах.
type DiskUsage struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// getDiskUsage возвращает информацию о дисковом пространстве в директории.
func getDiskUsage(path string) (DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)

	return DiskUsage{
		TotalBytes:     total,
		UsedBytes:      total - available,
		AvailableBytes: available,
	}, nil
}
