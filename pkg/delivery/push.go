package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// MulticastSender is the part of *messaging.Client used for push delivery.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// TokenStore resolves and prunes device registration tokens.
type TokenStore interface {
	Tokens(ctx context.Context, userID uint64) ([]string, error)
	RemoveTokens(ctx context.Context, tokens []string) error
}

// NewFirebaseMessaging creates an FCM client from a service account file.
func NewFirebaseMessaging(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return client, nil
}

// PushOption configures a Push deliverer.
type PushOption func(*Push)

// WithRateLimit caps sends per second with the given burst.
func WithRateLimit(perSecond float64, burst int) PushOption {
	return func(p *Push) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithPushLogger sets the logger.
func WithPushLogger(l *slog.Logger) PushOption {
	return func(p *Push) {
		if l != nil {
			p.logger = l
		}
	}
}

// Push delivers PushPayload hooks to every device of the recipient.
type Push struct {
	sender  MulticastSender
	tokens  TokenStore
	limiter *rate.Limiter
	logger  *slog.Logger

	classify func(error) failure
}

type failure int

const (
	failurePermanent failure = iota
	failureStaleToken
	failureTransient
	failureQuota
)

func classifyFCM(err error) failure {
	switch {
	case messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err):
		return failureStaleToken
	case messaging.IsQuotaExceeded(err):
		return failureQuota
	case messaging.IsUnavailable(err) || messaging.IsInternal(err):
		return failureTransient
	}
	return failurePermanent
}

// NewPush creates a push deliverer. The default limit is 50 sends per
// second with a burst of 50.
func NewPush(sender MulticastSender, tokens TokenStore, opts ...PushOption) *Push {
	p := &Push{
		sender:  sender,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(50), 50),
		logger:  slog.Default(),

		classify: classifyFCM,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type pushResponse struct {
	Success    int      `json:"success"`
	Failure    int      `json:"failure"`
	MessageIDs []string `json:"message_ids,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Pruned     int      `json:"pruned,omitempty"`
	Skipped    string   `json:"skipped,omitempty"`
}

func (r pushResponse) raw() json.RawMessage {
	out, _ := json.Marshal(r)
	return out
}

// Deliver sends the push to every device of the recipient. Stale tokens
// are pruned; quota and transient failures are retried.
func (p *Push) Deliver(ctx context.Context, _ core.HookKind, payload json.RawMessage) (json.RawMessage, error) {
	var msg PushPayload
	if err := decode(payload, &msg); err != nil {
		return nil, err
	}

	tokens, err := p.tokens.Tokens(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("load device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return pushResponse{Skipped: "no_devices"}.raw(), nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	br, err := p.sender.SendEachForMulticast(ctx, p.message(msg, tokens))
	if err != nil {
		if p.classify(err) == failureQuota {
			return nil, core.RetryAfter(time.Minute, err)
		}
		return nil, fmt.Errorf("fcm send: %w", err)
	}

	resp := pushResponse{Success: br.SuccessCount, Failure: br.FailureCount}
	var stale []string
	var retryable error
	for i, r := range br.Responses {
		if r.Success {
			resp.MessageIDs = append(resp.MessageIDs, r.MessageID)
			continue
		}
		resp.Errors = append(resp.Errors, r.Error.Error())
		switch p.classify(r.Error) {
		case failureStaleToken:
			if i < len(tokens) {
				stale = append(stale, tokens[i])
			}
		case failureTransient, failureQuota:
			retryable = r.Error
		}
	}

	if len(stale) > 0 {
		if err := p.tokens.RemoveTokens(ctx, stale); err != nil {
			p.logger.Warn("failed to prune device tokens", "user_id", msg.UserID, "error", err)
		} else {
			resp.Pruned = len(stale)
		}
	}

	if br.SuccessCount > 0 || br.FailureCount == 0 {
		return resp.raw(), nil
	}
	if retryable != nil {
		return resp.raw(), fmt.Errorf("fcm: all %d devices failed: %w", br.FailureCount, retryable)
	}
	return resp.raw(), core.NoRetry(errors.New("fcm: no reachable device"))
}

// message renders includes as their entity type; the device resolves
// display names from the includes data field.
func (p *Push) message(msg PushPayload, tokens []string) *messaging.MulticastMessage {
	body := msg.Text(nil)

	data := map[string]string{
		"kind":      string(msg.Kind),
		"goto":      msg.Goto.Target,
		"timestamp": strconv.FormatInt(msg.Key.Timestamp, 10),
		"uuid":      msg.Key.UUID,
	}
	if params, err := json.Marshal(msg.Goto.Params); err == nil && len(msg.Goto.Params) > 0 {
		data["goto_params"] = string(params)
	}
	if incs, err := json.Marshal(msg.Includes); err == nil && len(msg.Includes) > 0 {
		data["includes"] = string(incs)
	}

	return &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         data,
		Notification: &messaging.Notification{Body: body},
		Android:      &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
}
