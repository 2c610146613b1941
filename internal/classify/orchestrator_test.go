package classify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/models"
)

type stubClassifier struct {
	result models.ClassificationResult
	panics bool
}

func (s *stubClassifier) Classify(context.Context, string) models.ClassificationResult {
	if s.panics {
		panic("classifier exploded")
	}
	return s.result
}

type recordingStore struct {
	mu       sync.Mutex
	messages []models.Message
	created  chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{created: make(chan struct{}, 16)}
}

func (r *recordingStore) CreateMessage(_ context.Context, convID int64, role string, text *string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := models.Message{ID: int64(len(r.messages) + 1), ConvID: convID, Role: role, Text: text}
	r.messages = append(r.messages, msg)
	r.created <- struct{}{}
	return &msg, nil
}

func (r *recordingStore) all() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.messages...)
}

func runJob(t *testing.T, classifier Classifier, store MessageStore, job Job) {
	t.Helper()
	o := NewOrchestrator(classifier, store, zap.NewNop(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Run(ctx)
	}()
	require.True(t, o.Enqueue(job))

	rec := store.(*recordingStore)
	select {
	case <-rec.created:
	case <-time.After(2 * time.Second):
		t.Fatal("no message created")
	}
	cancel()
	<-done
}

func TestSuccessfulClassificationCreatesReply(t *testing.T) {
	store := newRecordingStore()
	runJob(t, &stubClassifier{result: models.ClassificationResult{
		Success:    true,
		Prediction: "Monstera deliciosa",
		Confidence: 0.87,
		TopK: []models.TopKEntry{
			{Label: "Monstera deliciosa", Confidence: 0.87},
			{Label: "Philodendron", Confidence: 0.08},
		},
	}}, store, Job{ConversationID: 42, ImagePath: "/abs/leaf.jpg"})

	messages := store.all()
	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, int64(42), msg.ConvID)
	assert.Equal(t, models.RoleAssistant, msg.Role)
	require.NotNil(t, msg.Text)
	assert.True(t, strings.HasPrefix(*msg.Text, "🌿"))
	assert.Contains(t, *msg.Text, "Monstera deliciosa")
	assert.Contains(t, *msg.Text, "87%")
	assert.Contains(t, *msg.Text, "Philodendron (8%)")
}

func TestFailedClassificationCreatesExactlyOneApology(t *testing.T) {
	store := newRecordingStore()
	runJob(t, &stubClassifier{result: models.ClassificationResult{
		Success: false,
		Error:   "classification timeout - service may be busy or unavailable",
	}}, store, Job{ConversationID: 7, ImagePath: "/abs/slow.jpg"})

	messages := store.all()
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].Text)
	assert.Equal(t, FallbackReply, *messages[0].Text)
	assert.Equal(t, models.RoleAssistant, messages[0].Role)
}

func TestPanickingClassifierStillProducesApology(t *testing.T) {
	store := newRecordingStore()
	runJob(t, &stubClassifier{panics: true}, store, Job{ConversationID: 3, ImagePath: "/abs/x.jpg"})

	messages := store.all()
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].Text)
	assert.Equal(t, FallbackReply, *messages[0].Text)
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	// worker never started, so the queue just fills up
	o := NewOrchestrator(&stubClassifier{}, newRecordingStore(), zap.NewNop(), 2)
	assert.True(t, o.Enqueue(Job{ConversationID: 1}))
	assert.True(t, o.Enqueue(Job{ConversationID: 2}))
	assert.False(t, o.Enqueue(Job{ConversationID: 3}))
}

func TestFormatReply(t *testing.T) {
	tests := []struct {
		name   string
		result models.ClassificationResult
		want   string
	}{
		{
			name: "alternatives capped at three",
			result: models.ClassificationResult{
				Success:    true,
				Prediction: "Calathea",
				Confidence: 0.412,
				TopK: []models.TopKEntry{
					{Label: "Calathea", Confidence: 0.412},
					{Label: "Ctenanthe", Confidence: 0.31},
					{Label: "Prayer Plant (Maranta leuconeura)", Confidence: 0.15},
					{Label: "Tradescantia", Confidence: 0.08},
					{Label: "Dracaena", Confidence: 0.03},
				},
			},
			want: "🌿 This looks like **Calathea** (41% confident).\n\n" +
				"Other possibilities:\n" +
				"• Ctenanthe (31%)\n" +
				"• Prayer Plant (Maranta leuconeura) (15%)\n" +
				"• Tradescantia (8%)",
		},
		{
			name: "no alternatives block for a single candidate",
			result: models.ClassificationResult{
				Success:    true,
				Prediction: "Aloe Vera",
				Confidence: 0.995,
				TopK:       []models.TopKEntry{{Label: "Aloe Vera", Confidence: 0.995}},
			},
			want: "🌿 This looks like **Aloe Vera** (100% confident).",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatReply(tc.result))
		})
	}
}
