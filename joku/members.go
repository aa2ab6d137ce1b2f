package joku

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// parseUserMention extracts a user ID from a raw snowflake or a mention
// token like <@123> / <@!123>.
func parseUserMention(token string) (string, bool) {
	id := token
	if strings.HasPrefix(id, "<@") && strings.HasSuffix(id, ">") {
		id = strings.TrimSuffix(strings.TrimPrefix(id, "<@"), ">")
		id = strings.TrimPrefix(id, "!")
	}
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

// resolveMember turns a mention or ID argument into a user.
func resolveMember(c *Context, token string) (*discordgo.User, error) {
	id, ok := parseUserMention(token)
	if !ok {
		return nil, fmt.Errorf("could not parse %q as a member", token)
	}
	user, err := c.bot.session().User(id)
	if err != nil {
		return nil, fmt.Errorf("no such member: %s", token)
	}
	return user, nil
}

// guildMemberIndex returns the IDs and display names of every member in
// the context's guild.
func guildMemberIndex(c *Context) ([]string, map[string]string, error) {
	members, err := c.bot.session().GuildMembers(c.GuildID)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(members))
	names := make(map[string]string, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		ids = append(ids, m.User.ID)
		name := m.Nick
		if name == "" {
			name = m.User.Username
		}
		names[m.User.ID] = name
	}
	return ids, names, nil
}
