package joku

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	cooldownBucketDaily   = "daily_currency"
	cooldownBucketRaffles = "raffles"

	dailyCooldown  = 24 * time.Hour
	raffleCooldown = time.Hour
)

var badRaffleResponses = []string{
	":fire: Your bank account went up in flames and you lost `§%d`.",
	":grapes: You spend too much in the supermarket and you lost `§%d`.",
	":spider: A spider arrives and you get so spooked you drop `§%d`.",
}

var goodRaffleResponses = []string{
	":money_mouth: You exploit the working class and gain `§%d`.",
	":medal: You win first place in the Money Making Race and gain `§%d`.",
	":slot_machine: You have a gambling addiction and win `§%d`.",
}

const gamblingAddictionHelp = `Need help with a gambling addiction? We're here to help.

UK: <http://www.gamcare.org.uk/>
US: <http://www.ncpgambling.org/>
Canada: <https://www.problemgambling.ca/Pages/Home.aspx>`

// CurrencyCog implements the currency economy: daily credits, the
// raffle, balance lookups and the per-guild rich list.
type CurrencyCog struct {
	BaseCog
}

func init() {
	RegisterCogBuilder(
		"currency", func(b *Bot) (Cog, error) {
			return &CurrencyCog{BaseCog: NewBaseCog(b)}, nil
		},
	)
}

func (*CurrencyCog) Name() string {
	return "currency"
}

func (c *CurrencyCog) Commands() []*Command {
	return []*Command{
		{
			Name:           "daily",
			Help:           "Gives you your daily credits.",
			CooldownBucket: cooldownBucketDaily,
			CooldownTTL:    dailyCooldown,
			Handler:        c.daily,
		},
		{
			Name:    "raffle",
			Help:    "Will you win big or will you lose out? This can be ran once per hour.",
			Handler: c.raffle,
		},
		{
			Name:    "currency",
			Aliases: []string{"money"},
			Help:    "Gets the current amount of § a user has.",
			Handler: c.currency,
		},
		{
			Name:    "richest",
			Help:    "Shows the top 10 richest users in this server.",
			Handler: c.richest,
		},
		{
			Name:    "store",
			Help:    "Store command.",
			Handler: c.storeCommand,
		},
	}
}

func (c *CurrencyCog) daily(ctx context.Context, cc *Context) error {
	amount := 40 + c.RNG().Intn(21)
	if err := cc.Store().UpdateUserCurrency(ctx, cc.Author.ID, amount); err != nil {
		return err
	}
	return cc.Sendf(
		ctx,
		":money_with_wings: **You have earned `§%d` today.**",
		amount,
	)
}

func (c *CurrencyCog) raffle(ctx context.Context, cc *Context) error {
	// The raffle manages its own cooldown so a losing ticket still
	// counts as this hour's ticket.
	ttl, active, err := cc.Cache().GetCooldownExpiration(
		ctx, cc.Author.ID, cooldownBucketRaffles,
	)
	if err != nil {
		return err
	}
	if active {
		minutes := int(ttl.Minutes())
		return cc.Sendf(
			ctx,
			":x: You've already brought this hour's raffle ticket. "+
				"Try again in `%d` minutes.",
			minutes,
		)
	}

	currency, err := cc.Store().GetUserCurrency(ctx, cc.Author.ID)
	if err != nil {
		return err
	}

	if currency <= 0 {
		if c.RNG().Intn(11) < 5 {
			if err = cc.Send(
				ctx,
				":dragon: A debt collector came and broke your knees. "+
					"You are now debt free.",
			); err != nil {
				return err
			}
			return cc.Store().UpdateUserCurrency(ctx, cc.Author.ID, -currency+2)
		}
		return cc.Send(ctx, gamblingAddictionHelp)
	}

	amount := c.RNG().Intn(901) - 600
	if err = cc.Store().UpdateUserCurrency(ctx, cc.Author.ID, amount); err != nil {
		return err
	}

	var response string
	if amount < 0 {
		response = badRaffleResponses[c.RNG().Intn(len(badRaffleResponses))]
	} else {
		response = goodRaffleResponses[c.RNG().Intn(len(goodRaffleResponses))]
	}
	if err = cc.Sendf(ctx, response, abs(amount)); err != nil {
		return err
	}

	return cc.Cache().SetBucketWithExpiration(
		ctx, cc.Author.ID, cooldownBucketRaffles, raffleCooldown,
	)
}

func (c *CurrencyCog) currency(ctx context.Context, cc *Context) error {
	target := cc.Author
	if len(cc.Args) > 0 {
		member, err := resolveMember(cc, cc.Args[0])
		if err != nil {
			return &CheckFailed{Reason: err.Error()}
		}
		target = member
	}
	if target.Bot {
		return cc.Send(ctx, ":x: Bots cannot earn money.")
	}
	currency, err := cc.Store().GetUserCurrency(ctx, target.ID)
	if err != nil {
		return err
	}
	return cc.Sendf(ctx, "User **%s** has `§%d`.", target.Username, currency)
}

func (c *CurrencyCog) richest(ctx context.Context, cc *Context) error {
	if cc.GuildID == "" {
		return &CheckFailed{Reason: "this command can only be used in a server"}
	}

	memberIDs, names, err := guildMemberIndex(cc)
	if err != nil {
		return err
	}

	users, err := cc.Store().GetMultipleUsers(ctx, memberIDs, "money desc")
	if err != nil {
		return err
	}

	headers := []string{"POS", "User", "Currency"}
	var rows [][]string
	for n, u := range users {
		if n >= 10 {
			break
		}
		name, ok := names[u.ID]
		if !ok {
			// Member left between invocation and here.
			continue
		}
		rows = append(
			rows,
			[]string{
				fmt.Sprintf("%d", n+1),
				asciiSafe(name),
				fmt.Sprintf("%d", u.Money),
			},
		)
	}

	table := formatTable(headers, rows)
	return cc.Sendf(
		ctx,
		"**Top 10 users (in this server):**\n\n%s",
		codeBlock(table),
	)
}

func (c *CurrencyCog) storeCommand(ctx context.Context, cc *Context) error {
	if len(cc.Args) > 0 {
		switch cc.Args[0] {
		case "buy", "sell":
			// Inventory trading isn't wired up yet.
			c.Bot().logger.Debug(
				"store subcommand invoked",
				"subcommand", cc.Args[0],
			)
		}
	}
	return cc.Send(
		ctx,
		"**Use `store buy` to buy things, or `store sell` to sell things.**",
	)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// asciiSafe replaces non-ASCII runes so names can't break table
// alignment.
func asciiSafe(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r > 127 {
			sb.WriteByte('?')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
