package companion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/solacelabs/tandem/internal/api"
	"github.com/solacelabs/tandem/internal/dashboard"
	"github.com/solacelabs/tandem/internal/types"
	"github.com/solacelabs/tandem/internal/wizard"
)

// ErrClosed is returned by operations on a shut-down client.
var ErrClosed = errors.New("client is closed")

// Client is a companion-app client for the tandem server. It keeps a
// live local replica of the shared needs collection fed by the server's
// change feed, so reads are local and writes go to the server.
type Client struct {
	config    Config
	transport *transport
	replica   *Replica

	mu        sync.RWMutex
	closed    bool
	watchDone chan struct{}
	watchStop context.CancelFunc
}

// New creates a new companion client.
func New(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, errors.New("ServerURL is required")
	}
	if config.Member == "" {
		return nil, errors.New("Member is required")
	}
	if config.WatchTimeout == 0 {
		config.WatchTimeout = 30 * time.Second
	}
	if config.PageSize == 0 {
		config.PageSize = 500
	}

	// The HTTP timeout must outlast a full watch long-poll.
	return &Client{
		config:    config,
		transport: newTransport(config, config.WatchTimeout+15*time.Second),
		replica:   NewReplica(),
		watchDone: make(chan struct{}),
	}, nil
}

// Initialize bootstraps the replica from the change feed and starts the
// background watch loop.
func (c *Client) Initialize(ctx context.Context) (*SyncStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	stats, err := c.catchUp(ctx)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchStop = cancel
	go c.watchLoop(watchCtx)

	return stats, nil
}

// Shutdown stops the watch loop. The replica stays readable.
func (c *Client) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.watchStop != nil {
		c.watchStop()
		<-c.watchDone
	}
}

// CatchUp pulls any changes past the replica's cursor. The watch loop
// does this continuously; CatchUp is for callers that want a synchronous
// refresh.
func (c *Client) CatchUp(ctx context.Context) (*SyncStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.catchUp(ctx)
}

func (c *Client) catchUp(ctx context.Context) (*SyncStats, error) {
	start := time.Now()
	stats := &SyncStats{}

	for {
		var page api.DeltaResponse
		path := fmt.Sprintf("/api/v1/changes?after=%d&limit=%d", c.replica.LastSequence(), c.config.PageSize)
		if err := c.transport.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		applied, err := c.replica.Apply(page.Entries)
		if err != nil {
			return nil, err
		}
		stats.Applied += applied
		stats.LastSequence = c.replica.LastSequence()
		if !page.HasMore {
			break
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (c *Client) watchLoop(ctx context.Context) {
	defer close(c.watchDone)

	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.watchOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait, _ := backoff.Next()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		// A successful round resets the failure backoff.
		backoff = retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
	}
}

func (c *Client) watchOnce(ctx context.Context) error {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(c.replica.LastSequence(), 10))
	q.Set("limit", strconv.Itoa(c.config.PageSize))
	q.Set("timeout", c.config.WatchTimeout.String())

	var page api.DeltaResponse
	if err := c.transport.do(ctx, http.MethodGet, "/api/v1/changes/watch?"+q.Encode(), nil, &page); err != nil {
		return err
	}
	if _, err := c.replica.Apply(page.Entries); err != nil {
		return err
	}
	return nil
}

// Needs returns the replica's cards, newest first.
func (c *Client) Needs() []types.NeedCard {
	return c.replica.List()
}

// Need returns one card from the replica.
func (c *Client) Need(id string) (types.NeedCard, bool) {
	return c.replica.Get(id)
}

// Dashboard derives the member's dashboard from the local replica.
func (c *Client) Dashboard() Dashboard {
	cards := c.replica.List()
	partition := dashboard.PartitionByAuthor(cards, c.config.Member)
	return Dashboard{
		Mine:          partition.Mine,
		Partners:      partition.Partners,
		Notifications: dashboard.NotificationCount(cards, c.config.Member),
	}
}

// ActionItems derives the member's flat action list from the replica.
func (c *Client) ActionItems() []dashboard.ActionItem {
	return dashboard.ActionItems(c.replica.List(), c.config.Member)
}

// Activity derives creation and discussion counts over time from the
// replica.
func (c *Client) Activity(granularity dashboard.Granularity, offset int) []dashboard.ActivityBucket {
	return dashboard.Activity(c.replica.List(), granularity, offset, time.Now().UTC())
}

// OpenNeed opens a card on the server, which applies the read-triggered
// seen flags for this member, and echoes the result into the replica.
func (c *Client) OpenNeed(ctx context.Context, id string) (*types.NeedCard, error) {
	return c.cardOp(ctx, http.MethodGet, "/api/v1/needs/"+id, id, nil)
}

// Respond submits action plans to the partner's card.
func (c *Client) Respond(ctx context.Context, id string, plans []string) (*types.NeedCard, error) {
	body := struct {
		Plans []string `json:"plans"`
	}{Plans: plans}
	return c.cardOp(ctx, http.MethodPost, "/api/v1/needs/"+id+"/respond", id, body)
}

// ToggleAction flips an action plan's completion state.
func (c *Client) ToggleAction(ctx context.Context, id, planID string) (*types.NeedCard, error) {
	return c.cardOp(ctx, http.MethodPost, "/api/v1/needs/"+id+"/plans/"+planID+"/toggle", id, nil)
}

// SetReminder schedules a reminder on an action plan, days from now.
func (c *Client) SetReminder(ctx context.Context, id, planID string, days int) (*types.NeedCard, error) {
	body := struct {
		Days int `json:"days"`
	}{Days: days}
	return c.cardOp(ctx, http.MethodPut, "/api/v1/needs/"+id+"/plans/"+planID+"/reminder", id, body)
}

// ClearReminder removes an action plan's reminder.
func (c *Client) ClearReminder(ctx context.Context, id, planID string) (*types.NeedCard, error) {
	return c.cardOp(ctx, http.MethodDelete, "/api/v1/needs/"+id+"/plans/"+planID+"/reminder", id, nil)
}

// RemoveAction deletes an action plan from a card.
func (c *Client) RemoveAction(ctx context.Context, id, planID string) (*types.NeedCard, error) {
	return c.cardOp(ctx, http.MethodDelete, "/api/v1/needs/"+id+"/plans/"+planID, id, nil)
}

// Cancel deletes the member's own card.
func (c *Client) Cancel(ctx context.Context, id string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.transport.do(ctx, http.MethodDelete, "/api/v1/needs/"+id, nil, nil); err != nil {
		return err
	}
	c.replica.Remove(id)
	return nil
}

// cardOp performs a card write and echoes the acknowledged document
// into the replica. The echo carries the card's pre-write sequence so a
// newer version delivered by the watch feed during the round-trip is
// never overwritten.
func (c *Client) cardOp(ctx context.Context, method, path, id string, body any) (*types.NeedCard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	seen := c.replica.CardSequence(id)

	var card types.NeedCard
	if err := c.transport.do(ctx, method, path, body, &card); err != nil {
		return nil, err
	}
	c.replica.Echo(card, seen)
	return &card, nil
}

// WizardState fetches the member's wizard snapshot.
func (c *Client) WizardState(ctx context.Context) (*wizard.Snapshot, error) {
	return c.wizardOp(ctx, http.MethodGet, "/api/v1/wizard", nil)
}

// SetAnnoyance updates the wizard draft. Depth analysis runs server-side
// after a debounce; poll WizardState for the result.
func (c *Client) SetAnnoyance(ctx context.Context, text string) (*wizard.Snapshot, error) {
	body := struct {
		Text string `json:"text"`
	}{Text: text}
	return c.wizardOp(ctx, http.MethodPut, "/api/v1/wizard/annoyance", body)
}

// BeginIntrospection advances the wizard past the depth gate.
func (c *Client) BeginIntrospection(ctx context.Context) (*wizard.Snapshot, error) {
	return c.wizardOp(ctx, http.MethodPost, "/api/v1/wizard/introspection", nil)
}

// NextSection advances through the introspection sections and, at the
// last one, into translation.
func (c *Client) NextSection(ctx context.Context) (*wizard.Snapshot, error) {
	return c.wizardOp(ctx, http.MethodPost, "/api/v1/wizard/next", nil)
}

// PrevSection steps back one introspection section.
func (c *Client) PrevSection(ctx context.Context) (*wizard.Snapshot, error) {
	return c.wizardOp(ctx, http.MethodPost, "/api/v1/wizard/back", nil)
}

// Share publishes the wizard's translated need as a card.
func (c *Client) Share(ctx context.Context) (*types.NeedCard, error) {
	return c.cardOp(ctx, http.MethodPost, "/api/v1/wizard/share", "", nil)
}

// ResetWizard abandons the current draft.
func (c *Client) ResetWizard(ctx context.Context) (*wizard.Snapshot, error) {
	return c.wizardOp(ctx, http.MethodPost, "/api/v1/wizard/reset", nil)
}

func (c *Client) wizardOp(ctx context.Context, method, path string, body any) (*wizard.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	var snap wizard.Snapshot
	if err := c.transport.do(ctx, method, path, body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// HealthCheck probes the server's public health endpoint.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{}

	var health types.HealthResponse
	if err := c.transport.do(ctx, http.MethodGet, "/api/v1/health", nil, &health); err != nil {
		status.LastError = err.Error()
		return status
	}
	status.ServerReachable = true
	status.ServerVersion = health.Version
	status.NeedCount = health.NeedCount
	return status
}
