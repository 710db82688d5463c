package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"
)

const feedEvent = "transfer_event"

// Feed pushes events to connected Socket.IO clients.
type Feed struct {
	handler http.Handler
	log     *logrus.Entry

	mu      sync.Mutex
	clients []*socket.Socket
}

func NewFeed(log *logrus.Entry) *Feed {
	engineServer := types.CreateServer(nil)
	ioServer := socket.NewServer(engineServer, nil)
	f := &Feed{handler: engineServer, log: log}

	ioServer.On("connection", func(args ...any) {
		client := args[0].(*socket.Socket)
		f.mu.Lock()
		f.clients = append(f.clients, client)
		n := len(f.clients)
		f.mu.Unlock()
		log.Infof("Socket.IO client connected: %s (%d connected)", client.Id(), n)

		client.On("disconnect", func(...any) {
			f.mu.Lock()
			for i, c := range f.clients {
				if c == client {
					f.clients = append(f.clients[:i], f.clients[i+1:]...)
					break
				}
			}
			f.mu.Unlock()
			log.Infof("Socket.IO client disconnected: %s", client.Id())
		})
	})
	return f
}

// Handler serves the Socket.IO endpoint; mount it at /socket.io/.
func (f *Feed) Handler() http.Handler { return f.handler }

func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	clients := append([]*socket.Socket(nil), f.clients...)
	f.mu.Unlock()
	for _, c := range clients {
		go func(client *socket.Socket) {
			done := make(chan error, 1)
			go func() { done <- client.Emit(feedEvent, ev) }()
			select {
			case err := <-done:
				if err != nil {
					f.log.Debugf("Error sending event to client %s: %v", client.Id(), err)
				}
			case <-time.After(2 * time.Second):
				f.log.Debugf("Timeout sending event to client %s", client.Id())
			}
		}(c)
	}
}
