package joku

import (
	"context"
	"strings"
)

// TagsCog implements named user-authored snippets, scoped per guild with
// an optional global flag.
type TagsCog struct {
	BaseCog
}

func init() {
	RegisterCogBuilder(
		"tags", func(b *Bot) (Cog, error) {
			return &TagsCog{BaseCog: NewBaseCog(b)}, nil
		},
	)
}

func (*TagsCog) Name() string {
	return "tags"
}

func (t *TagsCog) Commands() []*Command {
	return []*Command{
		{
			Name:     "tag",
			Help:     "Shows a tag. Subcommands: create, delete, list.",
			ArgNames: []string{"name"},
			Checks:   []CheckFunc{guildOnly},
			Handler:  t.tag,
		},
	}
}

func guildOnly(_ context.Context, c *Context) error {
	if c.GuildID == "" {
		return &CheckFailed{Reason: "this command can only be used in a server"}
	}
	return nil
}

func (t *TagsCog) tag(ctx context.Context, c *Context) error {
	switch c.Args[0] {
	case "create":
		return t.create(ctx, c)
	case "delete":
		return t.delete(ctx, c)
	case "list":
		return t.list(ctx, c)
	default:
		return t.show(ctx, c)
	}
}

func (t *TagsCog) show(ctx context.Context, c *Context) error {
	name := c.Args[0]
	tag, err := c.Store().GetTag(ctx, c.GuildID, name)
	if err != nil {
		return err
	}
	if tag == nil {
		return c.Sendf(ctx, ":x: Tag `%s` does not exist.", name)
	}
	return c.Send(ctx, tag.Content)
}

func (t *TagsCog) create(ctx context.Context, c *Context) error {
	if len(c.Args) < 2 {
		return &MissingArgument{Argument: "name"}
	}
	if len(c.Args) < 3 {
		return &MissingArgument{Argument: "content"}
	}
	name := c.Args[1]
	content := strings.Join(c.Args[2:], " ")

	existing, err := c.Store().GetTag(ctx, c.GuildID, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.UserID != c.Author.ID {
		return &CheckFailed{Reason: "that tag belongs to somebody else"}
	}

	tag := &Tag{
		GuildID: c.GuildID,
		UserID:  c.Author.ID,
		Name:    name,
		Content: content,
	}
	if existing != nil {
		tag.ID = existing.ID
	}
	if err = c.Store().SaveTag(ctx, tag); err != nil {
		return err
	}
	return c.Sendf(ctx, ":heavy_check_mark: Saved tag `%s`.", name)
}

func (t *TagsCog) delete(ctx context.Context, c *Context) error {
	if len(c.Args) < 2 {
		return &MissingArgument{Argument: "name"}
	}
	name := c.Args[1]

	existing, err := c.Store().GetTag(ctx, c.GuildID, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return c.Sendf(ctx, ":x: Tag `%s` does not exist.", name)
	}
	if existing.UserID != c.Author.ID && c.Author.ID != c.bot.OwnerID {
		return &CheckFailed{Reason: "you can only delete your own tags"}
	}

	if err = c.Store().DeleteTag(ctx, c.GuildID, name); err != nil {
		return err
	}
	return c.Sendf(ctx, ":heavy_check_mark: Deleted tag `%s`.", name)
}

func (t *TagsCog) list(ctx context.Context, c *Context) error {
	tags, err := c.Store().ListTags(ctx, c.GuildID)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return c.Send(ctx, "This server has no tags.")
	}
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = "`" + tag.Name + "`"
	}
	return c.Sendf(ctx, "**Tags:** %s", strings.Join(names, ", "))
}
