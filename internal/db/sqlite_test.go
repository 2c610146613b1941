package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Boon40/PlantMore/internal/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func str(s string) *string { return &s }

func TestConversationCRUD(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	conv, err := database.CreateConversation(ctx, "Getting started")
	require.NoError(t, err)
	assert.NotZero(t, conv.ID)
	assert.False(t, conv.IsFavourite)

	renamed, err := database.RenameConversation(ctx, conv.ID, "Cacti care")
	require.NoError(t, err)
	assert.Equal(t, "Cacti care", renamed.Title)

	fav, err := database.SetFavourite(ctx, conv.ID, true)
	require.NoError(t, err)
	assert.True(t, fav.IsFavourite)

	got, err := database.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cacti care", got.Title)
	assert.True(t, got.IsFavourite)

	_, err = database.GetConversation(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = database.RenameConversation(ctx, 9999, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = database.SetFavourite(ctx, 9999, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsFavouritesFirst(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	var ids []int64
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		conv, err := database.CreateConversation(ctx, title)
		require.NoError(t, err)
		ids = append(ids, conv.ID)
	}
	_, err := database.SetFavourite(ctx, ids[1], true)
	require.NoError(t, err)
	_, err = database.SetFavourite(ctx, ids[3], true)
	require.NoError(t, err)

	list, err := database.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)

	// all favourites before all non-favourites, ids descending in each group
	sawNonFavourite := false
	for _, conv := range list {
		if !conv.IsFavourite {
			sawNonFavourite = true
		} else {
			assert.False(t, sawNonFavourite, "favourite after non-favourite")
		}
	}
	assert.Equal(t, []int64{ids[3], ids[1]}, []int64{list[0].ID, list[1].ID})
	assert.Equal(t, []int64{ids[4], ids[2], ids[0]}, []int64{list[2].ID, list[3].ID, list[4].ID})
}

func TestMessageOrderingInvariant(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	conv, err := database.CreateConversation(ctx, "ordering")
	require.NoError(t, err)

	// insert rows whose created_at order disagrees with id order
	stamps := []string{
		"2026-08-30 10:00:05",
		"2026-08-30 10:00:01",
		"2026-08-30 10:00:03",
		"2026-08-30 10:00:01",
	}
	for i, ts := range stamps {
		require.NoError(t, database.Exec(ctx,
			`INSERT INTO messages (conversation_id, role, text, created_at) VALUES (?, 'user', ?, ?)`,
			conv.ID, str(string(rune('a'+i))), ts))
	}

	messages, err := database.ListMessagesByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)

	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		if prev.CreatedAt.Equal(cur.CreatedAt) {
			assert.Less(t, prev.ID, cur.ID)
		} else {
			assert.True(t, prev.CreatedAt.Before(cur.CreatedAt))
		}
	}
}

func TestListMessagesCarriesImagesInOrder(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	conv, err := database.CreateConversation(ctx, "images")
	require.NoError(t, err)
	msg, err := database.CreateMessage(ctx, conv.ID, models.RoleUser, nil)
	require.NoError(t, err)
	assert.Nil(t, msg.Text)

	for _, url := range []string{"/uploads/a.jpg", "/uploads/b.jpg"} {
		_, err := database.CreateImage(ctx, msg.ID, url)
		require.NoError(t, err)
	}

	messages, err := database.ListMessagesByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Images, 2)
	assert.Less(t, messages[0].Images[0].ID, messages[0].Images[1].ID)
	assert.Equal(t, "/uploads/a.jpg", messages[0].Images[0].ImageURL)
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	conv, err := database.CreateConversation(ctx, "doomed")
	require.NoError(t, err)
	var urls []string
	for i := 0; i < 2; i++ {
		msg, err := database.CreateMessage(ctx, conv.ID, models.RoleUser, str("hi"))
		require.NoError(t, err)
		for j := 0; j <= i; j++ {
			url := fmt.Sprintf("/uploads/%d-%d.jpg", i, j)
			_, err := database.CreateImage(ctx, msg.ID, url)
			require.NoError(t, err)
			urls = append(urls, url)
		}
	}

	got, err := database.DeleteConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, urls, got)

	_, err = database.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	messages, err := database.ListMessagesByConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = database.DeleteConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMessageCascades(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)
	msg, err := database.CreateMessage(ctx, conv.ID, models.RoleUser, str("photo below"))
	require.NoError(t, err)
	_, err = database.CreateImage(ctx, msg.ID, "/uploads/x.jpg")
	require.NoError(t, err)

	urls, err := database.DeleteMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/x.jpg"}, urls)

	images, err := database.ListImagesByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, images)

	_, err = database.DeleteMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteConversationRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	conv, err := database.CreateConversation(ctx, "sturdy")
	require.NoError(t, err)
	msg, err := database.CreateMessage(ctx, conv.ID, models.RoleUser, str("keep me"))
	require.NoError(t, err)
	_, err = database.CreateImage(ctx, msg.ID, "/uploads/keep.jpg")
	require.NoError(t, err)

	// make the final conversation-row delete blow up mid-transaction
	require.NoError(t, database.Exec(ctx, `
		CREATE TRIGGER fail_conv_delete BEFORE DELETE ON conversations
		BEGIN SELECT RAISE(ABORT, 'simulated failure'); END`))

	_, err = database.DeleteConversation(ctx, conv.ID)
	require.Error(t, err)

	// nothing was removed
	messages, err := database.ListMessagesByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Images, 1)
	_, err = database.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
}

func TestDeleteImageReturnsURL(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	conv, err := database.CreateConversation(ctx, "chat")
	require.NoError(t, err)
	msg, err := database.CreateMessage(ctx, conv.ID, models.RoleUser, nil)
	require.NoError(t, err)
	img, err := database.CreateImage(ctx, msg.ID, "/uploads/one.jpg")
	require.NoError(t, err)

	url, err := database.DeleteImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/one.jpg", url)

	_, err = database.DeleteImage(ctx, img.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
