package sms

import (
	"net/http"
	"sync"
	"time"

	"github.com/oakridgehealth/frontdesk/pkg/logging"
)

const cacheCapacity = 16

// ClientCache hands out per-credential senders over one shared HTTP client.
// Bounded so rotated tenant credentials evict stale entries instead of
// leaking.
type ClientCache struct {
	mu         sync.Mutex
	senders    map[string]*Sender
	order      []string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClientCache creates the cache with a pooled HTTP client shared by
// every sender.
func NewClientCache(logger *logging.Logger) *ClientCache {
	if logger == nil {
		logger = logging.Default()
	}
	return &ClientCache{
		senders:    make(map[string]*Sender),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// For returns the sender for one credential set, creating and caching it on
// first use. Oldest entries are evicted past capacity.
func (c *ClientCache) For(creds Credentials) *Sender {
	key := creds.AccountSID + "\x00" + creds.AuthToken + "\x00" + creds.From

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.senders[key]; ok {
		return s
	}
	s := NewSender(creds, c.httpClient, c.logger)
	c.senders[key] = s
	c.order = append(c.order, key)
	for len(c.order) > cacheCapacity {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.senders, evict)
	}
	return s
}

// Len reports the number of cached senders.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.senders)
}
