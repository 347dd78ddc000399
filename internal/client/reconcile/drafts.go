package reconcile

import (
	"sync"

	"github.com/google/uuid"
)

// Draft is the unsent text of one community.
type Draft struct {
	Content   string
	IsSending bool
	// key is the idempotency key of the first send attempt of Content.
	// Retries of the same text reuse it.
	key       string
}

// Drafts holds the draft of each community.
type Drafts struct {
	mu     sync.Mutex
	byComm map[int64]*Draft
}

func NewDrafts() *Drafts {
	return &Drafts{byComm: make(map[int64]*Draft)}
}

func (d *Drafts) Get(communityID int64) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if draft, ok := d.byComm[communityID]; ok {
		return draft.Content
	}
	return ""
}

// Snapshot returns a copy of the community's draft.
func (d *Drafts) Snapshot(communityID int64) Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	if draft, ok := d.byComm[communityID]; ok {
		return Draft{Content: draft.Content, IsSending: draft.IsSending}
	}
	return Draft{}
}

// Set replaces the text. A different text drops the idempotency key.
func (d *Drafts) Set(communityID int64, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.byComm[communityID]
	if !ok {
		if text != "" {
			d.byComm[communityID] = &Draft{Content: text}
		}
		return
	}
	if draft.Content == text {
		return
	}
	draft.Content = text
	draft.key = ""
	if text == "" && !draft.IsSending {
		delete(d.byComm, communityID)
	}
}

// BeginSend marks the draft as sending text and returns the idempotency key
// for it. It returns false while another send of the community is pending.
func (d *Drafts) BeginSend(communityID int64, text string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.byComm[communityID]
	if !ok {
		draft = &Draft{}
		d.byComm[communityID] = draft
	}
	if draft.IsSending {
		return "", false
	}
	if draft.Content != text {
		draft.Content = text
		draft.key = ""
	}
	if draft.key == "" {
		draft.key = uuid.NewString()
	}
	draft.IsSending = true
	return draft.key, true
}

// FinishSend ends the pending send of text. On success the draft is removed
// unless it was edited meanwhile; on failure the text and its key are kept
// for a retry.
func (d *Drafts) FinishSend(communityID int64, text string, sent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.byComm[communityID]
	if !ok {
		return
	}
	draft.IsSending = false
	if sent && draft.Content == text {
		delete(d.byComm, communityID)
		return
	}
	if draft.Content == "" {
		delete(d.byComm, communityID)
	}
}
