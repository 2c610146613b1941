package reconcile

import (
	"sort"
	"strings"

	"github.com/Boon40/PlantMore/internal/models"
)

// Entry is one message in the client's view of a conversation. Pending
// entries (the "thinking" placeholder) exist only locally and are never
// sent to the server; they carry synthetic negative ids.
type Entry struct {
	models.Message
	Pending bool
}

// IsAssistant reports whether a message came from the assistant. The
// persisted role field decides; rows from databases predating the role
// column fall back to the leaf-emoji text prefix the assistant replies
// have always carried.
func IsAssistant(msg models.Message) bool {
	if msg.Role != "" {
		return msg.Role == models.RoleAssistant
	}
	return msg.Text != nil && strings.HasPrefix(*msg.Text, "🌿")
}

// Merge folds a server snapshot into the local view. Server truth wins for
// message fields, but attachment sets are unioned by image id so a
// locally-known attachment survives a momentarily incomplete server
// response. Local-only entries (optimistic sends not yet visible, pending
// placeholders) are kept. The result is ordered by creation time, then
// non-pending before pending, then id; merging the same snapshot twice
// yields the same view.
func Merge(local []Entry, server []models.Message) []Entry {
	localByID := make(map[int64]Entry, len(local))
	for _, e := range local {
		localByID[e.ID] = e
	}

	merged := make([]Entry, 0, len(local)+len(server))
	seen := make(map[int64]bool, len(server))
	for _, msg := range server {
		seen[msg.ID] = true
		if prev, ok := localByID[msg.ID]; ok {
			msg.Images = unionImages(msg.Images, prev.Images)
		}
		merged = append(merged, Entry{Message: msg})
	}
	for _, e := range local {
		if !seen[e.ID] {
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Pending != b.Pending {
			return !a.Pending
		}
		return a.ID < b.ID
	})
	return merged
}

func unionImages(server, local []models.Image) []models.Image {
	have := make(map[int64]bool, len(server))
	for _, img := range server {
		have[img.ID] = true
	}
	union := append([]models.Image(nil), server...)
	for _, img := range local {
		if !have[img.ID] {
			union = append(union, img)
		}
	}
	sort.Slice(union, func(i, j int) bool { return union[i].ID < union[j].ID })
	return union
}
