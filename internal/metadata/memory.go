package metadata

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and dry runs. Semantics
// mirror SQLStore, including sparse upserts.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*DocumentRow
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*DocumentRow)}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Upsert(ctx context.Context, row *DocumentRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rows[row.ID]
	if !ok {
		cp := *row
		m.rows[row.ID] = &cp
		return nil
	}
	if row.SourceURL != "" {
		existing.SourceURL = row.SourceURL
	}
	if row.CrawlID != "" {
		existing.CrawlID = row.CrawlID
	}
	if row.OriginalFilename != "" {
		existing.OriginalFilename = row.OriginalFilename
	}
	if row.FileSizeBytes != nil {
		existing.FileSizeBytes = row.FileSizeBytes
	}
	if row.Status != "" {
		existing.Status = row.Status
	}
	if row.ErrorMessage != nil {
		existing.ErrorMessage = row.ErrorMessage
	}
	if row.IsValidDocx != nil {
		existing.IsValidDocx = row.IsValidDocx
	}
	if row.DiscoveredAt != nil {
		existing.DiscoveredAt = row.DiscoveredAt
	}
	if row.DownloadedAt != nil {
		existing.DownloadedAt = row.DownloadedAt
	}
	if row.UploadedAt != nil {
		existing.UploadedAt = row.UploadedAt
	}
	if row.ExtractedAt != nil {
		existing.ExtractedAt = row.ExtractedAt
	}
	if row.WordCount != nil {
		existing.WordCount = row.WordCount
	}
	if row.CharCount != nil {
		existing.CharCount = row.CharCount
	}
	if row.TableCount != nil {
		existing.TableCount = row.TableCount
	}
	if row.ImageCount != nil {
		existing.ImageCount = row.ImageCount
	}
	if row.ExtractionError != nil {
		existing.ExtractionError = row.ExtractionError
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*DocumentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) GetByURL(ctx context.Context, url string) (*DocumentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.SourceURL == url {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UploadedURLSet(ctx context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{})
	for _, row := range m.rows {
		if row.Status == StatusUploaded && row.SourceURL != "" {
			set[row.SourceURL] = struct{}{}
		}
	}
	return set, nil
}

func (m *MemoryStore) UploadedIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, row := range m.rows {
		if row.Status == StatusUploaded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) StatsByStatus(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int64)
	for _, row := range m.rows {
		stats[row.Status]++
	}
	return stats, nil
}

func (m *MemoryStore) UpdateExtraction(ctx context.Context, id string, res ExtractionResult, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil
	}
	t := at
	row.ExtractedAt = &t
	row.WordCount = &res.WordCount
	row.CharCount = &res.CharCount
	row.TableCount = &res.TableCount
	row.ImageCount = &res.ImageCount
	row.ExtractionError = nil
	return nil
}

func (m *MemoryStore) UpdateExtractionError(ctx context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil
	}
	row.ExtractionError = &message
	row.ExtractedAt = nil
	return nil
}

func (m *MemoryStore) GetUnextracted(ctx context.Context, limit int) ([]*DocumentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*DocumentRow
	for _, row := range m.rows {
		if row.Status == StatusUploaded && row.ExtractedAt == nil && row.ExtractionError == nil {
			cp := *row
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].UploadedAt, result[j].UploadedAt
		switch {
		case ti == nil:
			return tj != nil
		case tj == nil:
			return false
		default:
			return ti.Before(*tj)
		}
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ExtractionStats(ctx context.Context) (*ExtractionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats ExtractionStats
	for _, row := range m.rows {
		if row.Status != StatusUploaded {
			continue
		}
		stats.Uploaded++
		switch {
		case row.ExtractedAt != nil:
			stats.Extracted++
		case row.ExtractionError != nil:
			stats.Errored++
		default:
			stats.Remaining++
		}
	}
	return &stats, nil
}
