package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"wanderlust/internal/infra/httpclient"
	apperrors "wanderlust/internal/shared/errors"
	jsonx "wanderlust/internal/shared/json"
	"wanderlust/internal/shared/logging"
)

// ErrInvalidSubscription reports a subscription missing required fields.
var ErrInvalidSubscription = errors.New("invalid push subscription")

// PushKeys are the client keys of a browser push subscription.
type PushKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription registers one endpoint that receives a user's run events.
type Subscription struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	Keys      PushKeys  `json:"keys"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionStore keeps push subscriptions keyed by user, one per endpoint.
type SubscriptionStore struct {
	mu         sync.RWMutex
	users      map[string]map[string]Subscription
	validation httpclient.URLValidationOptions
	clock      func() time.Time
}

// NewSubscriptionStore returns an empty store that checks endpoints against
// validation.
func NewSubscriptionStore(validation httpclient.URLValidationOptions) *SubscriptionStore {
	return &SubscriptionStore{
		users:      make(map[string]map[string]Subscription),
		validation: validation,
		clock:      time.Now,
	}
}

// Subscribe adds or refreshes a subscription.
func (s *SubscriptionStore) Subscribe(sub Subscription) (Subscription, error) {
	sub.UserID = strings.TrimSpace(sub.UserID)
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	if sub.UserID == "" || sub.Endpoint == "" {
		return Subscription{}, fmt.Errorf("%w: user_id and endpoint are required", ErrInvalidSubscription)
	}
	if _, err := httpclient.ValidateOutboundURL(sub.Endpoint, s.validation); err != nil {
		return Subscription{}, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	sub.CreatedAt = s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	endpoints := s.users[sub.UserID]
	if endpoints == nil {
		endpoints = make(map[string]Subscription)
		s.users[sub.UserID] = endpoints
	}
	endpoints[sub.Endpoint] = sub
	return sub, nil
}

// Unsubscribe removes one endpoint, or every endpoint of the user when
// endpoint is empty. It reports how many were removed.
func (s *SubscriptionStore) Unsubscribe(userID, endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpoints, ok := s.users[userID]
	if !ok {
		return 0
	}
	if endpoint == "" {
		delete(s.users, userID)
		return len(endpoints)
	}
	if _, ok := endpoints[endpoint]; !ok {
		return 0
	}
	delete(endpoints, endpoint)
	if len(endpoints) == 0 {
		delete(s.users, userID)
	}
	return 1
}

// List returns a user's subscriptions sorted by endpoint.
func (s *SubscriptionStore) List(userID string) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0, len(s.users[userID]))
	for _, sub := range s.users[userID] {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// PushChannel delivers a user's notifications to each of their subscribed
// endpoints. Endpoints answering 404 or 410 are unsubscribed.
type PushChannel struct {
	name   string
	store  *SubscriptionStore
	client *http.Client
	retry  apperrors.RetryConfig
	logger logging.Logger
}

// NewPushChannel delivers through client; nil selects the shared default.
func NewPushChannel(name string, store *SubscriptionStore, client *http.Client) *PushChannel {
	logger := logging.NewComponentLogger("PushChannel")
	if client == nil {
		client = httpclient.New(defaultWebhookTimeout, logger)
	}
	return &PushChannel{
		name:   name,
		store:  store,
		client: client,
		retry:  apperrors.DefaultRetryConfig(),
		logger: logger,
	}
}

func (c *PushChannel) Name() string { return c.name }

// Supports skips low-priority progress chatter.
func (c *PushChannel) Supports(p Priority) bool { return p >= PriorityNormal }

// Send delivers to every endpoint of n.UserID. Users without subscriptions
// are a no-op.
func (c *PushChannel) Send(ctx context.Context, n Notification) error {
	if n.UserID == "" {
		return nil
	}
	subs := c.store.List(n.UserID)
	if len(subs) == 0 {
		return nil
	}
	body, err := jsonx.Marshal(payloadFor(n))
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		err := apperrors.Retry(ctx, c.retry, func(ctx context.Context) error {
			return postJSON(ctx, c.client, sub.Endpoint, map[string]string{"TTL": "3600"}, body)
		}, c.logger)
		if err == nil {
			continue
		}
		var coder apperrors.StatusCoder
		if errors.As(err, &coder) {
			switch coder.HTTPStatus() {
			case http.StatusNotFound, http.StatusGone:
				c.store.Unsubscribe(sub.UserID, sub.Endpoint)
				c.logger.Info("Dropped expired push endpoint for user %s", sub.UserID)
				continue
			}
		}
		errs = append(errs, fmt.Errorf("push to %s: %w", sub.Endpoint, err))
	}
	return errors.Join(errs...)
}
