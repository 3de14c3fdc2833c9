package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pepolabs/hookpipe/pkg/core"
	"github.com/pepolabs/hookpipe/pkg/fanout"
	"github.com/pepolabs/hookpipe/pkg/template"
)

// TopicPrefix prefixes every notification topic.
const TopicPrefix = "notification."

// Topic returns the routing key for a notification kind.
func Topic(kind core.NotificationKind) string { return TopicPrefix + string(kind) }

// ErrUnknownTopic is returned for topics no decoder is registered for.
var ErrUnknownTopic = errors.New("bus: unknown topic")

// FanoutPublisher is satisfied by *fanout.Publisher.
type FanoutPublisher interface {
	Publish(ctx context.Context, src fanout.Source) (fanout.Result, error)
}

type decoder func(body []byte) (fanout.Source, error)

func decodeAs[T fanout.Source]() decoder {
	return func(body []byte) (fanout.Source, error) {
		var ev T
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
}

// Router turns bus messages into fan-out publishes.
type Router struct {
	publisher FanoutPublisher
	decoders  map[string]decoder
	logger    *slog.Logger
}

// NewRouter creates a Router for every built-in notification event.
func NewRouter(p FanoutPublisher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		publisher: p,
		logger:    logger,
		decoders: map[string]decoder{
			Topic(core.NotificationTipReceived):      decodeAs[fanout.TipEvent](),
			Topic(core.NotificationThankYouReceived): decodeAs[fanout.ThankYouEvent](),
			Topic(core.NotificationMention):          decodeAs[fanout.MentionEvent](),
			Topic(core.NotificationReplyThread):      decodeAs[fanout.ReplyThreadEvent](),
			Topic(core.NotificationChannelLive):      decodeAs[fanout.ChannelLiveEvent](),
			Topic(core.NotificationChannelVideo):     decodeAs[fanout.ChannelVideoEvent](),
		},
	}
}

// Topics lists the routing keys the router understands.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.decoders))
	for t := range r.decoders {
		topics = append(topics, t)
	}
	return topics
}

// Handle decodes msg and publishes it. Malformed and invalid events are
// dropped; publish failures are returned for redelivery.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	dec, ok := r.decoders[msg.Topic]
	if !ok {
		return Drop(fmt.Errorf("%w: %s", ErrUnknownTopic, msg.Topic))
	}
	src, err := dec(msg.Body)
	if err != nil {
		return Drop(fmt.Errorf("bus: decode %s: %w", strings.TrimPrefix(msg.Topic, TopicPrefix), err))
	}

	res, err := r.publisher.Publish(ctx, src)
	if err != nil {
		if rejected(err) {
			return Drop(err)
		}
		return err
	}
	r.logger.Debug("event published",
		"topic", msg.Topic, "recipients", res.Recipients, "hooks", res.Hooks)
	return nil
}

// rejected reports errors that a redelivery of the same event would hit
// again.
func rejected(err error) bool {
	var ferr *fanout.ValidationError
	var terr *template.ValidationError
	return errors.As(err, &ferr) || errors.As(err, &terr) || errors.Is(err, template.ErrUnknownKind)
}

// PublishEvent encodes src and publishes it under its kind's topic.
func PublishEvent(ctx context.Context, p Publisher, src fanout.Source) error {
	body, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", src.Kind(), err)
	}
	return p.Publish(ctx, Topic(src.Kind()), body)
}

// TopicHandler handles a fixed set of topics.
type TopicHandler interface {
	Topics() []string
	Handle(ctx context.Context, msg Message) error
}

// Switch dispatches messages to the TopicHandler owning their topic.
type Switch struct {
	routes map[string]TopicHandler
}

// NewSwitch creates a Switch over handlers. A later handler wins a topic
// claimed twice.
func NewSwitch(handlers ...TopicHandler) *Switch {
	s := &Switch{routes: make(map[string]TopicHandler)}
	for _, h := range handlers {
		for _, t := range h.Topics() {
			s.routes[t] = h
		}
	}
	return s
}

// Topics lists every routed topic, for queue bindings.
func (s *Switch) Topics() []string {
	topics := make([]string, 0, len(s.routes))
	for t := range s.routes {
		topics = append(topics, t)
	}
	return topics
}

func (s *Switch) Handle(ctx context.Context, msg Message) error {
	h, ok := s.routes[msg.Topic]
	if !ok {
		return Drop(fmt.Errorf("%w: %s", ErrUnknownTopic, msg.Topic))
	}
	return h.Handle(ctx, msg)
}
