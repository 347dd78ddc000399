package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"community-chat/internal/client/api"
	"community-chat/internal/client/realtime"
	"community-chat/internal/models"
	"community-chat/internal/pagination"
)

const requestTimeout = 15 * time.Second

// ErrSendInProgress is returned while an earlier send of the community is
// still waiting for the server.
var ErrSendInProgress = errors.New("a message is already being sent")

// API is the part of the HTTP client the engine uses.
type API interface {
	ListCommunities(ctx context.Context) ([]models.Community, error)
	FetchPage(ctx context.Context, communityID int64, cursor *pagination.Cursor, dir pagination.Direction) (pagination.Page, error)
	SendMessage(ctx context.Context, communityID int64, content, idempotencyKey string) (models.Message, error)
	MarkRead(ctx context.Context, communityID, messageID int64) error
}

// Channels is the part of the realtime connection the engine uses.
type Channels interface {
	Subscribe(topic string, handler realtime.Handler) *realtime.Subscription
	Unsubscribe(sub *realtime.Subscription)
	Perform(topic, action string)
}

type Config struct {
	UserID int64
	// NearBottomThreshold is the scroll distance, in pixels, under which a
	// new message scrolls the view to the bottom.
	NearBottomThreshold float64
	ReadDebounce        time.Duration
	RefreshDebounce     time.Duration
}

func (c Config) withDefaults() Config {
	if c.NearBottomThreshold <= 0 {
		c.NearBottomThreshold = 100
	}
	if c.ReadDebounce <= 0 {
		c.ReadDebounce = 500 * time.Millisecond
	}
	if c.RefreshDebounce <= 0 {
		c.RefreshDebounce = time.Second
	}
	return c
}

// Alert is a user-facing error. Blocking alerts end the operation for good.
type Alert struct {
	Kind     api.Kind
	Blocking bool
	Message  string
	Err      error
}

// Callbacks notify the view. Any of them may be nil; panics are recovered.
type Callbacks struct {
	OnChange                func(communityID int64)
	OnScrollToBottom        func(msg models.Message)
	OnNewMessagesAffordance func(communityID int64)
	OnAlert                 func(Alert)
}

// Engine owns the client-side state of the chat view: the active community's
// buffers, per-community read state, drafts and channel subscriptions.
type Engine struct {
	api      API
	channels Channels
	cfg      Config
	cb       Callbacks
	drafts   *Drafts
	debounce *Debouncer

	mu          sync.Mutex
	ctx         context.Context
	active      int64
	server      []models.Message
	local       []models.Message
	olderCursor *pagination.Cursor
	newerCursor *pagination.Cursor
	loaded      bool
	distance    float64
	communities map[int64]models.Community
	order       []int64
	visible     map[int64]bool
	subs        map[string]*realtime.Subscription
}

func NewEngine(client API, channels Channels, cfg Config, cb Callbacks) *Engine {
	return &Engine{
		api:         client,
		channels:    channels,
		cfg:         cfg.withDefaults(),
		cb:          cb,
		drafts:      NewDrafts(),
		debounce:    NewDebouncer(),
		ctx:         context.Background(),
		communities: make(map[int64]models.Community),
		visible:     make(map[int64]bool),
		subs:        make(map[string]*realtime.Subscription),
	}
}

// Start subscribes to the user channel and loads the community list.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = context.WithoutCancel(ctx)
	e.mu.Unlock()

	e.subscribe(models.UserTopic(e.cfg.UserID))

	list, err := e.api.ListCommunities(ctx)
	if err != nil {
		e.alert(err)
		return err
	}
	e.mu.Lock()
	e.order = e.order[:0]
	for _, c := range list {
		e.communities[c.ID] = c
		e.order = append(e.order, c.ID)
	}
	e.mu.Unlock()
	e.changed(0)
	return nil
}

// Communities returns the known communities in listing order.
func (e *Engine) Communities() []models.Community {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Community, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.communities[id])
	}
	return out
}

// Community returns the known state of one community.
func (e *Engine) Community(id int64) (models.Community, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.communities[id]
	return c, ok
}

// SetVisible keeps community channels open for exactly the given
// communities plus the active one.
func (e *Engine) SetVisible(ids []int64) {
	want := map[string]bool{}
	visible := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[models.CommunityTopic(id)] = true
		visible[id] = true
	}

	e.mu.Lock()
	e.visible = visible
	if e.active != 0 {
		want[models.CommunityTopic(e.active)] = true
	}
	var drop []*realtime.Subscription
	for topic, sub := range e.subs {
		kind, _, _ := models.ParseTopic(topic)
		if kind == models.TopicCommunity && !want[topic] {
			drop = append(drop, sub)
			delete(e.subs, topic)
		}
	}
	e.mu.Unlock()

	for _, sub := range drop {
		e.channels.Unsubscribe(sub)
	}
	for topic := range want {
		e.subscribe(topic)
	}
}

// SelectCommunity makes communityID active and loads its first page. The
// previous community's channel is closed unless it is in the visible set.
func (e *Engine) SelectCommunity(ctx context.Context, communityID int64) error {
	e.mu.Lock()
	if e.active == communityID && e.loaded {
		e.mu.Unlock()
		return nil
	}
	var drop *realtime.Subscription
	if prev := e.active; prev != 0 && prev != communityID && !e.visible[prev] {
		topic := models.CommunityTopic(prev)
		drop = e.subs[topic]
		delete(e.subs, topic)
	}
	e.active = communityID
	e.server = nil
	e.local = nil
	e.olderCursor, e.newerCursor = nil, nil
	e.loaded = false
	e.distance = 0
	e.mu.Unlock()

	if drop != nil {
		e.channels.Unsubscribe(drop)
	}
	e.subscribe(models.CommunityTopic(communityID))
	e.changed(communityID)
	return e.LoadInitial(ctx)
}

// Active returns the selected community id, 0 when none.
func (e *Engine) Active() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// LoadInitial replaces the fetched history with the page around the
// viewer's read marker.
func (e *Engine) LoadInitial(ctx context.Context) error {
	communityID := e.Active()
	if communityID == 0 {
		return nil
	}
	page, err := e.api.FetchPage(ctx, communityID, nil, pagination.Around)
	if err != nil {
		e.alert(err)
		return err
	}

	e.mu.Lock()
	if e.active != communityID {
		e.mu.Unlock()
		return nil
	}
	e.server = page.Messages
	e.olderCursor = page.NextOlderTimestamp
	e.newerCursor = page.NextNewerTimestamp
	e.loaded = true
	e.mu.Unlock()
	e.changed(communityID)
	return nil
}

// LoadOlder fetches the page before the oldest fetched message. It is a
// no-op at the start of history.
func (e *Engine) LoadOlder(ctx context.Context) error {
	return e.loadPage(ctx, pagination.Older)
}

// LoadNewer fetches the page after the newest fetched message.
func (e *Engine) LoadNewer(ctx context.Context) error {
	return e.loadPage(ctx, pagination.Newer)
}

func (e *Engine) loadPage(ctx context.Context, dir pagination.Direction) error {
	e.mu.Lock()
	communityID := e.active
	cursor := e.newerCursor
	if dir == pagination.Older {
		cursor = e.olderCursor
	}
	e.mu.Unlock()
	if communityID == 0 || cursor == nil {
		return nil
	}

	page, err := e.api.FetchPage(ctx, communityID, cursor, dir)
	if err != nil {
		e.alert(err)
		return err
	}

	e.mu.Lock()
	if e.active != communityID {
		e.mu.Unlock()
		return nil
	}
	e.server = mergePage(e.server, page.Messages)
	if dir == pagination.Older {
		e.olderCursor = page.NextOlderTimestamp
	} else {
		e.newerCursor = page.NextNewerTimestamp
	}
	e.mu.Unlock()
	e.changed(communityID)
	return nil
}

// StartOfHistory reports whether the oldest message has been fetched.
func (e *Engine) StartOfHistory() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded && e.olderCursor == nil
}

// Messages returns the displayed history of the active community.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	server, local := e.server, e.local
	e.mu.Unlock()
	return Merge(server, local)
}

// UpdateViewport records how far, in pixels, the view is from the bottom.
func (e *Engine) UpdateViewport(distanceFromBottom float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.distance = distanceFromBottom
}

// HandleEvent applies one realtime event received on topic.
func (e *Engine) HandleEvent(topic string, event models.Event) {
	kind, id, err := models.ParseTopic(topic)
	if err != nil {
		log.Printf("reconcile dropping event: topic=%q err=%v", topic, err)
		return
	}

	switch ev := event.(type) {
	case models.LatestCommunityInfo:
		if kind != models.TopicUser {
			return
		}
		e.applyInfo(ev.Info)
	case models.CreateChatMessage:
		e.applyLive(kind, id, ev.Message, true)
	case models.UpdateChatMessage:
		e.applyLive(kind, id, ev.Message, false)
	case models.DeleteChatMessage:
		e.applyLive(kind, id, ev.Message, false)
	default:
		log.Printf("reconcile dropping unknown event: topic=%s type=%T", topic, event)
	}
}

func (e *Engine) applyLive(kind string, communityID int64, msg models.Message, created bool) {
	if kind != models.TopicCommunity {
		return
	}

	e.mu.Lock()
	if communityID != e.active {
		e.mu.Unlock()
		e.requestRefresh(communityID)
		return
	}
	e.local = append(e.local, msg)
	nearBottom := e.distance <= e.cfg.NearBottomThreshold
	e.mu.Unlock()

	e.changed(communityID)
	if !created {
		return
	}
	if nearBottom {
		e.call(func() {
			if e.cb.OnScrollToBottom != nil {
				e.cb.OnScrollToBottom(msg)
			}
		})
		return
	}
	e.call(func() {
		if e.cb.OnNewMessagesAffordance != nil {
			e.cb.OnNewMessagesAffordance(communityID)
		}
	})
}

func (e *Engine) requestRefresh(communityID int64) {
	topic := models.CommunityTopic(communityID)
	e.debounce.Trigger("refresh:"+topic, e.cfg.RefreshDebounce, func() {
		e.channels.Perform(topic, models.ActionRefreshCommunityInfo)
	})
}

func (e *Engine) applyInfo(info models.CommunityInfo) {
	e.mu.Lock()
	c, ok := e.communities[info.CommunityID]
	if !ok {
		c = models.Community{ID: info.CommunityID}
		e.order = append(e.order, info.CommunityID)
	}
	c.Apply(info)
	e.communities[info.CommunityID] = c
	e.mu.Unlock()
	e.changed(info.CommunityID)
}

// MessageVisible reports that msg was shown to the viewer. A mark-read call
// for its community is debounced and only scheduled when msg is newer than
// the known read marker.
func (e *Engine) MessageVisible(msg models.Message) {
	e.mu.Lock()
	c := e.communities[msg.CommunityID]
	if c.LastReadMessageCreatedAt != nil && !msg.CreatedAt.After(*c.LastReadMessageCreatedAt) {
		e.mu.Unlock()
		return
	}
	createdAt := msg.CreatedAt
	c.ID = msg.CommunityID
	c.LastReadMessageCreatedAt = &createdAt
	c.UnreadCount = 0
	if _, ok := e.communities[msg.CommunityID]; !ok {
		e.order = append(e.order, msg.CommunityID)
	}
	e.communities[msg.CommunityID] = c
	ctx := e.ctx
	e.mu.Unlock()
	e.changed(msg.CommunityID)

	key := "read:" + strconv.FormatInt(e.cfg.UserID, 10) + ":" + strconv.FormatInt(msg.CommunityID, 10)
	e.debounce.Trigger(key, e.cfg.ReadDebounce, func() {
		callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := e.api.MarkRead(callCtx, msg.CommunityID, msg.ID); err != nil {
			log.Printf("mark read failed: community_id=%d message_id=%d err=%v", msg.CommunityID, msg.ID, err)
			e.alert(err)
		}
	})
}

// SetDraft stores the unsent text of the active community.
func (e *Engine) SetDraft(text string) {
	e.drafts.Set(e.Active(), text)
}

// Draft returns the unsent text of the active community.
func (e *Engine) Draft() string {
	return e.drafts.Get(e.Active())
}

// Send posts content to the active community. Invalid content never reaches
// the network. The draft is cleared only after the server accepts the message.
// Retrying the same draft reuses its idempotency key; when the server reports
// the key as already used the draft is cleared and a zero Message is returned,
// the stored message arriving through the live channel.
func (e *Engine) Send(ctx context.Context, content string) (models.Message, error) {
	communityID := e.Active()
	if communityID == 0 {
		return models.Message{}, errors.New("no active community")
	}
	if err := models.ValidateContent(content); err != nil {
		e.alert(&api.Error{Kind: api.KindValidation, Message: err.Error(), Err: err})
		return models.Message{}, err
	}

	key, ok := e.drafts.BeginSend(communityID, content)
	if !ok {
		return models.Message{}, ErrSendInProgress
	}
	e.changed(communityID)

	msg, err := e.api.SendMessage(ctx, communityID, content, key)
	if err != nil {
		if api.KindOf(err) == api.KindDuplicate {
			log.Printf("send already accepted: community_id=%d key=%s", communityID, key)
			e.drafts.FinishSend(communityID, content, true)
			e.changed(communityID)
			return models.Message{}, nil
		}
		e.drafts.FinishSend(communityID, content, false)
		e.alert(err)
		e.changed(communityID)
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	e.drafts.FinishSend(communityID, content, true)
	e.HandleEvent(models.CommunityTopic(communityID), models.CreateChatMessage{Message: msg})
	return msg, nil
}

// Sending reports whether a send of the active community's draft is pending.
func (e *Engine) Sending() bool {
	return e.drafts.Snapshot(e.Active()).IsSending
}

// Close cancels pending debounced calls and drops every subscription.
func (e *Engine) Close() {
	e.debounce.Stop()
	e.mu.Lock()
	subs := make([]*realtime.Subscription, 0, len(e.subs))
	for topic, sub := range e.subs {
		subs = append(subs, sub)
		delete(e.subs, topic)
	}
	e.mu.Unlock()
	for _, sub := range subs {
		e.channels.Unsubscribe(sub)
	}
}

func (e *Engine) subscribe(topic string) {
	e.mu.Lock()
	if sub, ok := e.subs[topic]; ok && sub.Live() {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	sub := e.channels.Subscribe(topic, func(ev models.Event) { e.HandleEvent(topic, ev) })

	e.mu.Lock()
	e.subs[topic] = sub
	e.mu.Unlock()
}

func (e *Engine) alert(err error) {
	kind := api.KindOf(err)
	a := Alert{Kind: kind, Blocking: kind == api.KindTerminal, Message: err.Error(), Err: err}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		a.Message = apiErr.Message
	}
	e.call(func() {
		if e.cb.OnAlert != nil {
			e.cb.OnAlert(a)
		}
	})
}

func (e *Engine) changed(communityID int64) {
	e.call(func() {
		if e.cb.OnChange != nil {
			e.cb.OnChange(communityID)
		}
	})
}

func (e *Engine) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("reconcile callback panic: %v", r)
		}
	}()
	fn()
}
