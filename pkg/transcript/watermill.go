package transcript

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultTopic = "transcript"

const sequenceNumberKey = "sequence_number"

// WatermillSink publishes appended entries as JSON messages on a topic.
// Each message carries a sequence_number metadata value in append order.
type WatermillSink struct {
	publisher message.Publisher
	topic     string

	mu             sync.Mutex
	sequenceNumber uint64
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEntry(e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "could not marshal transcript entry")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(sequenceNumberKey, strconv.FormatUint(w.sequenceNumber, 10))
	w.sequenceNumber++

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return errors.Wrapf(err, "could not publish entry %d to %s", e.ID, w.topic)
	}
	log.Trace().Str("topic", w.topic).Int("entry_id", e.ID).Str("kind", string(e.Kind)).Msg("published transcript entry")
	return nil
}

var _ Sink = (*WatermillSink)(nil)

// Router fans transcript messages out to handlers over an in-process gochannel pubsub.
type Router struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type RouterOption func(*Router)

func WithLogger(logger watermill.LoggerAdapter) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func NewRouter(options ...RouterOption) (*Router, error) {
	ret := &Router{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, errors.Wrap(err, "could not create watermill router")
	}
	ret.router = router

	return ret, nil
}

// AddEntryHandler registers f for every entry published on topic.
// Malformed payloads are logged and acknowledged.
func (r *Router) AddEntryHandler(name string, topic string, f func(Entry) error) {
	r.router.AddNoPublisherHandler(name, topic, r.Subscriber, func(msg *message.Message) error {
		var e Entry
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			log.Error().Err(err).Str("handler", name).Str("message_id", msg.UUID).Msg("could not decode transcript entry")
			return nil
		}
		return f(e)
	})
}

// Sink returns a WatermillSink publishing into this router.
func (r *Router) Sink(topic string) *WatermillSink {
	return NewWatermillSink(r.Publisher, topic)
}

func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	if err := r.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close transcript pubsub")
	}
	if err := r.router.Close(); err != nil {
		return errors.Wrap(err, "could not close transcript router")
	}
	return nil
}

// ZerologAdapter routes watermill logs into zerolog.
// Watermill's info level is chatty and is mapped to debug.
type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

func (z *ZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	z.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, fields watermill.LogFields) {
	z.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z *ZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	z.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z *ZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	z.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z *ZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZerologAdapter{logger: z.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

var _ watermill.LoggerAdapter = (*ZerologAdapter)(nil)
