package client

// Handler receives application messages. Returning false stops the current Listen.
type Handler interface {
	HandleMessage(id uint32, payload []byte) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(id uint32, payload []byte) bool

func (f HandlerFunc) HandleMessage(id uint32, payload []byte) bool {
	return f(id, payload)
}
