package joku

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBot builds a Bot wired with a mock session, fake cache and
// document log, and a per-test SQLite database. Nothing is connected
// until the test asks for it.
func newTestBot(t *testing.T) (*Bot, *mockDiscordSession) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BotToken = "test-token"
	dbName := strings.ReplaceAll(t.Name(), "/", "_")
	cfg.Database = filepath.Join(t.TempDir(), fmt.Sprintf("%s.sqlite3", dbName))

	bot, err := New(cfg)
	require.NoError(t, err)

	sess := newMockDiscordSession()
	bot.sess = sess
	bot.cache = newFakeCache()
	bot.rdblog = newFakeDocumentLog()
	bot.rotatorInterval = 5 * time.Millisecond
	return bot, sess
}

func connectTestStore(t *testing.T, b *Bot) {
	t.Helper()
	require.NoError(t, b.store.Connect(context.Background()))
	t.Cleanup(
		func() {
			assert.NoError(t, b.store.Close())
		},
	)
}

func connectTestCache(t *testing.T, b *Bot) {
	t.Helper()
	require.NoError(t, b.cache.Connect(context.Background()))
}

func newTestMessage(content, channelID, guildID string, author *discordgo.User) *discordgo.Message {
	return &discordgo.Message{
		ID:        "msg-1",
		Content:   content,
		ChannelID: channelID,
		GuildID:   guildID,
		Author:    author,
	}
}

func newTestUser(id string) *discordgo.User {
	return &discordgo.User{ID: id, Username: "user-" + id}
}

// registerTestCommand injects commands straight into the registry, for
// dispatch tests that don't need a full cog.
func registerTestCommand(t *testing.T, b *Bot, cmds ...*Command) {
	t.Helper()
	b.regMu.Lock()
	defer b.regMu.Unlock()
	for _, cmd := range cmds {
		for _, name := range cmd.names() {
			require.NotContains(t, b.commands, name)
			b.commands[name] = cmd
		}
		b.cmdOrder = append(b.cmdOrder, cmd.Name)
	}
}

// mockDiscordSession is a mock implementation of the SessionHandler
// interface. Sent messages and status updates are recorded for
// assertions.
type mockDiscordSession struct {
	mu sync.Mutex

	user        *discordgo.User
	application *discordgo.Application
	channels    map[string]*discordgo.Channel
	members     []*discordgo.Member
	users       map[string]*discordgo.User

	sent          map[string][]string
	statusUpdates []string
	statusCh      chan string

	openErr        error
	sendErr        error
	applicationErr error
	statusPanic    bool
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		user:     &discordgo.User{ID: "bot-self", Username: "joku"},
		channels: map[string]*discordgo.Channel{},
		users:    map[string]*discordgo.User{},
		sent:     map[string][]string{},
		statusCh: make(chan string, 64),
	}
}

func (d *mockDiscordSession) Open() error {
	return d.openErr
}

func (d *mockDiscordSession) Close() error {
	return nil
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return nil, d.sendErr
	}
	d.sent[channelID] = append(d.sent[channelID], message)
	return &discordgo.Message{ChannelID: channelID, Content: message}, nil
}

func (d *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel: %s", channelID)
	}
	return ch, nil
}

func (d *mockDiscordSession) Application(
	_ string,
	_ ...discordgo.RequestOption,
) (*discordgo.Application, error) {
	if d.applicationErr != nil {
		return nil, d.applicationErr
	}
	if d.application == nil {
		return nil, fmt.Errorf("no application info")
	}
	return d.application, nil
}

func (d *mockDiscordSession) GuildMembers(_ string) ([]*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.members, nil
}

func (d *mockDiscordSession) User(
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("unknown user: %s", userID)
	}
	return u, nil
}

func (d *mockDiscordSession) UpdateGameStatus(_ int, name string) error {
	d.mu.Lock()
	if d.statusPanic {
		d.mu.Unlock()
		panic("status update panic")
	}
	d.statusUpdates = append(d.statusUpdates, name)
	d.mu.Unlock()
	select {
	case d.statusCh <- name:
	default:
	}
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (d *mockDiscordSession) SessionUser() *discordgo.User {
	return d.user
}

// sentMessages returns a copy of everything sent to the channel so far.
func (d *mockDiscordSession) sentMessages(channelID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent[channelID]))
	copy(out, d.sent[channelID])
	return out
}

func (d *mockDiscordSession) lastMessage(t *testing.T, channelID string) string {
	t.Helper()
	msgs := d.sentMessages(channelID)
	require.NotEmpty(t, msgs, "no messages sent to channel %s", channelID)
	return msgs[len(msgs)-1]
}

// waitForStatus blocks until the mock session sees a presence update.
func (d *mockDiscordSession) waitForStatus(t *testing.T) string {
	t.Helper()
	select {
	case name := <-d.statusCh:
		return name
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a presence update")
		return ""
	}
}

// fakeCache is an in-memory CacheStore.
type fakeCache struct {
	mu        sync.Mutex
	connected bool
	buckets   map[string]time.Time

	connectErr error
	getErr     error
	setErr     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{buckets: map[string]time.Time{}}
}

func (f *fakeCache) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeCache) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeCache) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeCache) GetCooldownExpiration(
	_ context.Context,
	userID string,
	bucket string,
) (time.Duration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return 0, false, ErrStoreNotConnected
	}
	if f.getErr != nil {
		return 0, false, f.getErr
	}
	expiry, ok := f.buckets[cooldownKey(bucket, userID)]
	if !ok || time.Now().After(expiry) {
		return 0, false, nil
	}
	return time.Until(expiry), true, nil
}

func (f *fakeCache) SetBucketWithExpiration(
	_ context.Context,
	userID string,
	bucket string,
	ttl time.Duration,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrStoreNotConnected
	}
	if f.setErr != nil {
		return f.setErr
	}
	f.buckets[cooldownKey(bucket, userID)] = time.Now().Add(ttl)
	return nil
}

func (f *fakeCache) bucketSet(userID, bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	expiry, ok := f.buckets[cooldownKey(bucket, userID)]
	return ok && time.Now().Before(expiry)
}

// fakeDocumentLog is an in-memory DocumentLog.
type fakeDocumentLog struct {
	mu        sync.Mutex
	connected bool
	messages  []*discordgo.Message
	events    []string

	connectErr error
	closed     bool
}

func newFakeDocumentLog() *fakeDocumentLog {
	return &fakeDocumentLog{}
}

func (f *fakeDocumentLog) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeDocumentLog) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDocumentLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *fakeDocumentLog) LogMessage(_ context.Context, m *discordgo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrStoreNotConnected
	}
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeDocumentLog) LogEvent(_ context.Context, kind string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrStoreNotConnected
	}
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeDocumentLog) loggedMessages() []*discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*discordgo.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// fakeTransport is a scripted gatewayTransport for gateway loop tests.
type fakeTransport struct {
	mu         sync.Mutex
	opened     bool
	openResume bool
	closed     bool
	openErr    error
	events     chan gatewayEvent
}

func newFakeTransport(events ...gatewayEvent) *fakeTransport {
	ch := make(chan gatewayEvent, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	return &fakeTransport{events: ch}
}

func (f *fakeTransport) Open(resume bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	f.openResume = resume
	return f.openErr
}

func (f *fakeTransport) Events() <-chan gatewayEvent {
	return f.events
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestChunkMessageShortPassthrough(t *testing.T) {
	t.Parallel()
	chunks := chunkMessage("hello", discordMaxMessageLength)
	require.Equal(t, []string{"hello"}, chunks)
}

func TestChunkMessageSplitsOnLines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = strings.Repeat("a", 90)
	}
	content := strings.Join(lines, "\n")

	chunks := chunkMessage(content, 1000)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1000)
		// No line should be cut in half.
		for _, line := range strings.Split(chunk, "\n") {
			assert.Len(t, line, 90)
		}
	}
	assert.Equal(t, content, strings.Join(chunks, "\n"))
}

func TestChunkMessageHardSplitsOverlongLine(t *testing.T) {
	t.Parallel()
	content := strings.Repeat("x", 2500)
	chunks := chunkMessage(content, 1000)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1000)
	}
	assert.Equal(t, content, strings.Join(chunks, ""))
}

func TestChunkMessageKeepsCodeFences(t *testing.T) {
	t.Parallel()
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = strings.Repeat("b", 90)
	}
	content := codeBlock(strings.Join(lines, "\n"))

	chunks := chunkMessage(content, 1000)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1000)
		assert.True(t, strings.HasPrefix(chunk, "```"), "chunk missing opening fence")
		assert.True(t, strings.HasSuffix(chunk, "```"), "chunk missing closing fence")
	}
}

func TestFormatTable(t *testing.T) {
	t.Parallel()
	table := formatTable(
		[]string{"POS", "User", "Currency"},
		[][]string{
			{"1", "somebody", "500"},
			{"2", "x", "200"},
		},
	)
	expected := strings.Join(
		[]string{
			"POS  User      Currency",
			"---  --------  --------",
			"1    somebody  500     ",
			"2    x         200     ",
		},
		"\n",
	)
	assert.Equal(t, expected, table)
}
