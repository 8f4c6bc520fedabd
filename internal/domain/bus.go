package domain

// EventBus carries inbound events from the gateway receivers to the dispatcher.
type EventBus interface {
	Publish(ev InboundEvent) bool
	Subscribe() <-chan InboundEvent
	Close()
}
