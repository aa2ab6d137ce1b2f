package joku

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTagsBot(t *testing.T) (*Bot, *mockDiscordSession) {
	t.Helper()
	bot, sess := newTestBot(t)
	connectTestStore(t, bot)
	require.NoError(t, bot.LoadCog("tags"))
	return bot, sess
}

func TestTagCreateAndShow(t *testing.T) {
	t.Parallel()
	bot, sess := newTagsBot(t)
	ctx := context.Background()

	bot.processMessage(
		ctx,
		newTestMessage("j!tag create greet hello there world", "chan-1", "guild-1", newTestUser("u1")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "Saved tag `greet`")

	bot.processMessage(
		ctx,
		newTestMessage("j!tag greet", "chan-1", "guild-1", newTestUser("u2")),
	)
	assert.Equal(t, "hello there world", sess.lastMessage(t, "chan-1"))
}

func TestTagShowUnknown(t *testing.T) {
	t.Parallel()
	bot, sess := newTagsBot(t)

	bot.processMessage(
		context.Background(),
		newTestMessage("j!tag nothing", "chan-1", "guild-1", newTestUser("u1")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "Tag `nothing` does not exist")
}

func TestTagCreateMissingArguments(t *testing.T) {
	t.Parallel()
	bot, sess := newTagsBot(t)
	ctx := context.Background()

	bot.processMessage(
		ctx,
		newTestMessage("j!tag create", "chan-1", "guild-1", newTestUser("u1")),
	)
	assert.Contains(
		t,
		sess.lastMessage(t, "chan-1"),
		"name is a required argument that is missing",
	)

	bot.processMessage(
		ctx,
		newTestMessage("j!tag create greet", "chan-1", "guild-1", newTestUser("u1")),
	)
	assert.Contains(
		t,
		sess.lastMessage(t, "chan-1"),
		"content is a required argument that is missing",
	)
}

func TestTagCreateOwnership(t *testing.T) {
	t.Parallel()
	bot, sess := newTagsBot(t)
	ctx := context.Background()

	bot.processMessage(
		ctx,
		newTestMessage("j!tag create greet original", "chan-1", "guild-1", newTestUser("u1")),
	)

	// Somebody else can't overwrite it.
	bot.processMessage(
		ctx,
		newTestMessage("j!tag create greet hijacked", "chan-1", "guild-1", newTestUser("u2")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "belongs to somebody else")

	// The owner can update it in place.
	bot.processMessage(
		ctx,
		newTestMessage("j!tag create greet updated text", "chan-1", "guild-1", newTestUser("u1")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "Saved tag `greet`")

	tag, err := bot.store.GetTag(ctx, "guild-1", "greet")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, "updated text", tag.Content)

	// Still a single row after the update.
	tags, err := bot.store.ListTags(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestTagDeleteOwnership(t *testing.T) {
	t.Parallel()
	bot, sess := newTagsBot(t)
	ctx := context.Background()
	bot.OwnerID = "the-boss"

	bot.processMessage(
		ctx,
		newTestMessage("j!tag create greet mine", "chan-1", "guild-1", newTestUser("u1")),
	)

	bot.processMessage(
		ctx,
		newTestMessage("j!tag delete greet", "chan-1", "guild-1", newTestUser("u2")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "only delete your own tags")

	// The bot owner can delete anything.
	bot.processMessage(
		ctx,
		newTestMessage("j!tag delete greet", "chan-1", "guild-1", newTestUser("the-boss")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "Deleted tag `greet`")

	tag, err := bot.store.GetTag(ctx, "guild-1", "greet")
	require.NoError(t, err)
	assert.Nil(t, tag)
}

func TestTagList(t *testing.T) {
	t.Parallel()
	bot, sess := newTagsBot(t)
	ctx := context.Background()

	bot.processMessage(
		ctx,
		newTestMessage("j!tag list", "chan-1", "guild-1", newTestUser("u1")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "no tags")

	bot.processMessage(
		ctx,
		newTestMessage("j!tag create greet hi", "chan-1", "guild-1", newTestUser("u1")),
	)
	bot.processMessage(
		ctx,
		newTestMessage("j!tag list", "chan-1", "guild-1", newTestUser("u1")),
	)
	assert.Contains(t, sess.lastMessage(t, "chan-1"), "`greet`")
}

func TestTagGuildOnly(t *testing.T) {
	t.Parallel()
	bot, sess := newTagsBot(t)

	bot.processMessage(
		context.Background(),
		newTestMessage("j!tag greet", "dm-chan", "", newTestUser("u1")),
	)
	assert.Contains(
		t,
		sess.lastMessage(t, "dm-chan"),
		"Check failed: this command can only be used in a server",
	)
}
