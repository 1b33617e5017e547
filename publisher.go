package feeddev

// Contains the Publisher object, which publishes JSON-encoded messages
// giving the latest state of a transfer session.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// SessionStatus is the payload broadcast to status subscribers.
type SessionStatus struct {
	ID     string
	Device string
	State  string
	Pushes uint64
	Bytes  uint64
	Exit   int
}

// statusMessage carries one tagged frame pair to be published.
type statusMessage struct {
	tag     string
	message []byte
}

// Publisher forwards session status to a ZMQ publisher socket, so clients
// can follow a transfer without scraping standard error. Publishing never
// blocks the transfer loop: messages that can't be queued are dropped.
type Publisher struct {
	socket   *zmq.Socket
	messages chan statusMessage
	finished chan struct{}
}

// NewPublisher binds a PUB socket on the given TCP port and starts the
// forwarding goroutine.
func NewPublisher(portstatus int) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := socket.Bind(hostname); err != nil {
		socket.Close()
		return nil, err
	}
	p := &Publisher{
		socket:   socket,
		messages: make(chan statusMessage, 16),
		finished: make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Publish queues one status update under the given tag. Send failures and
// full queues are silently dropped; status is advisory.
func (p *Publisher) Publish(tag string, status SessionStatus) {
	message, err := json.Marshal(status)
	if err != nil {
		return
	}
	select {
	case p.messages <- statusMessage{tag: tag, message: message}:
	default:
	}
}

// Close drains the queue, closes the socket, and waits for the forwarding
// goroutine to finish. Publish must not be called after Close.
func (p *Publisher) Close() {
	close(p.messages)
	<-p.finished
}

func (p *Publisher) run() {
	defer close(p.finished)
	defer p.socket.Close()
	for update := range p.messages {
		if _, err := p.socket.Send(update.tag, zmq.SNDMORE); err != nil {
			continue
		}
		p.socket.Send(string(update.message), 0)
	}
}
