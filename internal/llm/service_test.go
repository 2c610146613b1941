package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/models"
)

func str(s string) *string { return &s }

func TestReplyEchoesWithoutConfiguredModel(t *testing.T) {
	service, err := New("", "", "", zap.NewNop())
	require.NoError(t, err)

	reply, err := service.Reply(context.Background(), nil, "how often to water a cactus?")
	require.NoError(t, err)
	assert.Equal(t, "Echo: how often to water a cactus?", reply)
}

func TestRenderHistorySkipsImageOnlyMessages(t *testing.T) {
	service := &Service{logger: zap.NewNop()}
	history := []models.Message{
		{Role: models.RoleUser, Text: str("what is this?")},
		{Role: models.RoleUser, Text: nil},
		{Role: models.RoleAssistant, Text: str("🌿 a monstera")},
	}

	rendered := service.renderHistory(history)
	assert.Equal(t, "user: what is this?\nassistant: 🌿 a monstera\n", rendered)
}

func TestRenderHistoryRespectsTokenBudget(t *testing.T) {
	service := &Service{logger: zap.NewNop()}

	long := strings.Repeat("water every plant thoroughly ", 200)
	history := []models.Message{
		{Role: models.RoleUser, Text: &long},
		{Role: models.RoleUser, Text: &long},
		{Role: models.RoleUser, Text: str("latest question")},
	}

	rendered := service.renderHistory(history)
	// the newest message always fits; the oldest must have been trimmed
	assert.Contains(t, rendered, "latest question")
	assert.Less(t, strings.Count(rendered, "water every plant"), 400)
}
