package joku

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"
	"net/http"
	"time"
)

// Cog is a self-contained bundle of related command handlers. Cogs are
// instantiated once per load via a registered builder and torn down on
// unload.
type Cog interface {
	Name() string
	Commands() []*Command
}

// CogReady is an optional hook scheduled fire-and-forget after the
// on-ready sequence finishes loading cogs. A ready hook failing never
// aborts startup or other hooks.
type CogReady interface {
	Ready(ctx context.Context) error
}

// CogTeardown is an optional hook invoked when a cog is unloaded, to
// release its scoped resources.
type CogTeardown interface {
	Teardown() error
}

// CogBuilder constructs a cog bound to the bot instance.
type CogBuilder func(b *Bot) (Cog, error)

// cogBuilders is the static registry of known cogs. The autoload list in
// configuration refers to these names; an unknown name is a load error,
// not a dynamic import.
var cogBuilders = map[string]CogBuilder{}

// RegisterCogBuilder adds a cog constructor to the builder registry.
// Called from init functions of cog files; panics on duplicate names
// since that is a programming error, not a configuration one.
func RegisterCogBuilder(name string, builder CogBuilder) {
	if _, ok := cogBuilders[name]; ok {
		panic(fmt.Sprintf("duplicate cog builder: %s", name))
	}
	cogBuilders[name] = builder
}

// BaseCog carries the per-cog shared resources: an HTTP client scoped to
// the cog's lifetime, and a seeded random source. Embed it and override
// what's needed.
type BaseCog struct {
	bot     *Bot
	session *http.Client
	rng     *mathrand.Rand
}

func NewBaseCog(b *Bot) BaseCog {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		binary.LittleEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
	}
	//nolint:gosec // game RNG, not key material - but seeded from crypto/rand anyway
	rng := mathrand.New(mathrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
	return BaseCog{
		bot:     b,
		session: &http.Client{Timeout: 30 * time.Second},
		rng:     rng,
	}
}

// Bot returns the bot instance associated with this cog.
func (c *BaseCog) Bot() *Bot {
	return c.bot
}

// HTTP returns the cog-scoped HTTP client.
func (c *BaseCog) HTTP() *http.Client {
	return c.session
}

// RNG returns the cog-scoped random source.
func (c *BaseCog) RNG() *mathrand.Rand {
	return c.rng
}

// Teardown releases the cog's HTTP client connections.
func (c *BaseCog) Teardown() error {
	c.session.CloseIdleConnections()
	return nil
}
