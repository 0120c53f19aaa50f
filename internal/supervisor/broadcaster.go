package supervisor

import (
	"sync"
)

// LogBroadcaster fans the tagged output feed out to multiple attached clients
type LogBroadcaster struct {
	clients map[chan string]bool
	history []string // Ring buffer for recent lines
	maxHist int      // Maximum history size
	mu      sync.RWMutex
}

// NewLogBroadcaster creates a new log broadcaster with the specified history size
func NewLogBroadcaster(historySize int) *LogBroadcaster {
	if historySize <= 0 {
		historySize = 1000 // default
	}
	return &LogBroadcaster{
		clients: make(map[chan string]bool),
		history: make([]string, 0, historySize),
		maxHist: historySize,
	}
}

// Subscribe adds a new client to receive broadcasts
func (lb *LogBroadcaster) Subscribe() chan string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ch := make(chan string, 100) // Buffer to prevent blocking
	lb.clients[ch] = true
	return ch
}

// SubscribeWithHistory adds a new client and returns up to historyLines of
// recent output. The history slice is returned separately so replay never
// competes with live lines for channel buffer space.
func (lb *LogBroadcaster) SubscribeWithHistory(historyLines int) (chan string, []string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ch := make(chan string, 100)
	lb.clients[ch] = true

	var history []string
	if historyLines > 0 && len(lb.history) > 0 {
		start := len(lb.history) - historyLines
		if start < 0 {
			start = 0
		}
		history = make([]string, len(lb.history)-start)
		copy(history, lb.history[start:])
	}

	return ch, history
}

// Unsubscribe removes a client from receiving broadcasts
func (lb *LogBroadcaster) Unsubscribe(ch chan string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	delete(lb.clients, ch)
	close(ch)
}

// Broadcast sends a line to all subscribed clients and records it in history
func (lb *LogBroadcaster) Broadcast(message string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.history) >= lb.maxHist {
		lb.history = lb.history[1:]
	}
	lb.history = append(lb.history, message)

	for ch := range lb.clients {
		select {
		case ch <- message:
		default:
			// Channel buffer full, skip this client to prevent blocking
		}
	}
}

// ClearHistory clears the history buffer
func (lb *LogBroadcaster) ClearHistory() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.history = lb.history[:0]
}
