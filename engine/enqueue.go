package engine

import (
	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/utils/logging"
)

// Message is an inbound message together with the account that sent it.
type Message struct {
	OriginID flow.AccountID
	Payload  interface{}
}

// MessageStore is the interface to abstract how messages are buffered in memory before
// being handled by the engine
type MessageStore interface {
	Put(*Message) bool
	Get() (*Message, bool)
}

type Pattern struct {
	// Match is a function to match a message to this pattern, typically by payload type.
	Match MatchFunc
	// Map is a function to apply to messages before storing them. if not provided, then the message won't get mapped.
	Map MapFunc
	// Store is an abstract message store where we will store the message upon receipt.
	Store MessageStore
	// BeforeStore is a hook for functions to be called when a message is stored.
	BeforeStore []OnMessageFunc
}

type OnMessageFunc func(*Message)

type MatchFunc func(*Message) bool

type MapFunc func(*Message) *Message

// MessageHandler sorts inbound messages into the store of the first pattern
// they match and notifies the consumer.
type MessageHandler struct {
	log      zerolog.Logger
	notifier Notifier
	patterns []Pattern
}

func NewMessageHandler(log zerolog.Logger, notifier Notifier, patterns ...Pattern) *MessageHandler {
	return &MessageHandler{
		log:      log.With().Str("component", "message_handler").Logger(),
		notifier: notifier,
		patterns: patterns,
	}
}

// Process stores the message and notifies the consumer. Returns false if the
// message matched no pattern or its store was full.
func (e *MessageHandler) Process(originID flow.AccountID, payload interface{}) bool {
	msg := &Message{
		OriginID: originID,
		Payload:  payload,
	}

	for _, pattern := range e.patterns {
		if !pattern.Match(msg) {
			continue
		}
		if pattern.Map != nil {
			msg = pattern.Map(msg)
		}
		for _, apply := range pattern.BeforeStore {
			apply(msg)
		}
		if !pattern.Store.Put(msg) {
			e.log.Warn().
				Str("msg_type", logging.Type(payload)).
				Str("origin_id", string(originID)).
				Msg("failed to store message - discarding")
			return false
		}
		e.notifier.Notify()
		// a message is matched by one pattern only
		return true
	}

	e.log.Warn().
		Str("msg_type", logging.Type(payload)).
		Str("origin_id", string(originID)).
		Msg("discarding unknown message type")
	return false
}

// GetNotifier returns the channel signalling newly stored messages.
func (e *MessageHandler) GetNotifier() <-chan struct{} {
	return e.notifier.Channel()
}
