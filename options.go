package hublink

import (
	"fmt"
	"time"

	"github.com/coregx/hublink/retry"
)

// TransportOption is a function that configures a Transport.
//
// Example:
//
//	transport, err := hublink.NewTransport(
//	    hublink.WithTransportLogger(logger),
//	    hublink.WithHandshakeTimeout(5*time.Second), // optional
//	)
type TransportOption func(*Transport) error

// WithTransportLogger sets the logger for the transport.
// Logger is required and must not be nil.
func WithTransportLogger(logger Logger) TransportOption {
	return func(t *Transport) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		t.logger = logger
		return nil
	}
}

// WithReconnectStrategy sets the reconnect backoff schedule.
// This is an optional configuration - if not provided, retry.ReconnectStrategy() is used
// (500ms doubling up to 30s).
func WithReconnectStrategy(strategy retry.Strategy) TransportOption {
	return func(t *Transport) error {
		if strategy.BaseDelay < 0 || strategy.MaxDelay < 0 {
			return fmt.Errorf("reconnect delays must be >= 0")
		}
		t.strategy = strategy
		return nil
	}
}

// WithHandshakeTimeout bounds dialing plus the auth exchange.
// This is an optional configuration - default is 10 seconds. Must be > 0.
func WithHandshakeTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) error {
		if timeout <= 0 {
			return fmt.Errorf("handshake timeout must be > 0, got %v", timeout)
		}
		t.handshakeTimeout = timeout
		return nil
	}
}

// WithSendTimeout bounds writing one frame to the socket. A write that
// does not finish in time fails and closes the socket.
// This is an optional configuration - default is 10 seconds. Must be > 0.
func WithSendTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) error {
		if timeout <= 0 {
			return fmt.Errorf("send timeout must be > 0, got %v", timeout)
		}
		t.sendTimeout = timeout
		return nil
	}
}

// WithSendBufferSize sets how many frames Send buffers while the
// transport is authenticating. Sends beyond it are rejected.
// This is an optional configuration - default is 64. Must be > 0.
func WithSendBufferSize(size int) TransportOption {
	return func(t *Transport) error {
		if size <= 0 {
			return fmt.Errorf("send buffer size must be > 0, got %d", size)
		}
		t.sendBufferSize = size
		return nil
	}
}

// WithTransportMetrics records connection state and reconnects.
func WithTransportMetrics(m *Metrics) TransportOption {
	return func(t *Transport) error {
		t.metrics = m
		return nil
	}
}

// ClientOption is a function that configures a Client.
//
// Example:
//
//	client, err := hublink.NewClient(
//	    hublink.WithConn(transport),
//	    hublink.WithClientLogger(logger),
//	    hublink.WithConfigProvider(hublink.StaticConfig{EndpointURL: url, Token: token}),
//	)
type ClientOption func(*Client) error

// WithConn sets the connection the client drives, normally a *Transport.
// This is a required option for NewClient.
func WithConn(conn Conn) ClientOption {
	return func(c *Client) error {
		if conn == nil {
			return fmt.Errorf("conn cannot be nil")
		}
		c.conn = conn
		return nil
	}
}

// WithClientLogger sets the logger for the client.
// Logger is required and must not be nil.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithConfigProvider sets the source of the ambient connection settings
// read by Client.Connect. Without it only ConnectWithTransientConfig works.
func WithConfigProvider(provider ConfigProvider) ClientOption {
	return func(c *Client) error {
		if provider == nil {
			return fmt.Errorf("config provider cannot be nil")
		}
		c.config = provider
		return nil
	}
}

// WithClientMetrics records the number of pending requests.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// QueueOption is a function that configures an OfflineQueue.
//
// Example:
//
//	queue, err := hublink.NewOfflineQueue(
//	    hublink.WithCommandRepository(repos.Commands),
//	    hublink.WithDeliverer(client),
//	    hublink.WithConnectivity(connectivity),
//	    hublink.WithQueueLogger(logger),
//	    hublink.WithDeadLetterRepository(repos.DeadLetters), // optional
//	)
type QueueOption func(*OfflineQueue) error

// WithCommandRepository sets the durable store for queued commands.
// This is a required option for NewOfflineQueue.
func WithCommandRepository(repo CommandRepository) QueueOption {
	return func(q *OfflineQueue) error {
		if repo == nil {
			return fmt.Errorf("command repository cannot be nil")
		}
		q.commands = repo
		return nil
	}
}

// WithDeliverer sets what Flush delivers commands through, normally the Client.
// This is a required option for NewOfflineQueue.
func WithDeliverer(d ServiceCaller) QueueOption {
	return func(q *OfflineQueue) error {
		if d == nil {
			return fmt.Errorf("deliverer cannot be nil")
		}
		q.deliverer = d
		return nil
	}
}

// WithConnectivity sets the connectivity signal Flush consults.
// This is a required option for NewOfflineQueue.
func WithConnectivity(c Connectivity) QueueOption {
	return func(q *OfflineQueue) error {
		if c == nil {
			return fmt.Errorf("connectivity cannot be nil")
		}
		q.connectivity = c
		return nil
	}
}

// WithQueueLogger sets the logger for the queue.
// Logger is required and must not be nil.
func WithQueueLogger(logger Logger) QueueOption {
	return func(q *OfflineQueue) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		q.logger = logger
		return nil
	}
}

// WithDeadLetterRepository enables dead-lettering. Commands that reach the
// strategy's DLQThreshold, or are evicted from a full queue, are moved there.
// Without it such commands stay queued (threshold) or are dropped (eviction).
func WithDeadLetterRepository(repo DeadLetterRepository) QueueOption {
	return func(q *OfflineQueue) error {
		if repo == nil {
			return fmt.Errorf("dead-letter repository cannot be nil")
		}
		q.deadLetters = repo
		return nil
	}
}

// WithQueueRetryStrategy sets the attempt ceiling for commands the hub rejects.
// This is an optional configuration - if not provided, retry.QueueStrategy() is used.
func WithQueueRetryStrategy(strategy retry.Strategy) QueueOption {
	return func(q *OfflineQueue) error {
		q.strategy = strategy
		return nil
	}
}

// WithMaxQueueSize bounds the number of queued commands. Enqueueing into a
// full queue evicts the oldest command first.
// This is an optional configuration - default is unbounded. Must be > 0.
func WithMaxQueueSize(n int) QueueOption {
	return func(q *OfflineQueue) error {
		if n <= 0 {
			return fmt.Errorf("max queue size must be > 0, got %d", n)
		}
		q.maxSize = n
		return nil
	}
}

// WithQueueNotifier sets an optional notifier for delivery failures and
// dead-lettered commands.
// This is an optional configuration - default is NoOpQueueNotifier.
func WithQueueNotifier(n QueueNotifier) QueueOption {
	return func(q *OfflineQueue) error {
		if n == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		q.notifier = n
		return nil
	}
}

// WithQueueMetrics records queued, delivered, failed and dead-lettered commands.
func WithQueueMetrics(m *Metrics) QueueOption {
	return func(q *OfflineQueue) error {
		q.metrics = m
		return nil
	}
}

// FacadeOption is a function that configures a QueueingClient.
type FacadeOption func(*QueueingClient) error

// WithServiceCaller sets the live client.
// This is a required option for NewQueueingClient.
func WithServiceCaller(caller ServiceCaller) FacadeOption {
	return func(f *QueueingClient) error {
		if caller == nil {
			return fmt.Errorf("service caller cannot be nil")
		}
		f.caller = caller
		return nil
	}
}

// WithQueue sets the offline queue commands fall back to.
// This is a required option for NewQueueingClient.
func WithQueue(queue CommandQueue) FacadeOption {
	return func(f *QueueingClient) error {
		if queue == nil {
			return fmt.Errorf("queue cannot be nil")
		}
		f.queue = queue
		return nil
	}
}

// WithFacadeConnectivity sets the connectivity signal consulted before
// each live call.
// This is a required option for NewQueueingClient.
func WithFacadeConnectivity(c Connectivity) FacadeOption {
	return func(f *QueueingClient) error {
		if c == nil {
			return fmt.Errorf("connectivity cannot be nil")
		}
		f.connectivity = c
		return nil
	}
}

// WithFacadeLogger sets the logger for the facade.
// Logger is required and must not be nil.
func WithFacadeLogger(logger Logger) FacadeOption {
	return func(f *QueueingClient) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		f.logger = logger
		return nil
	}
}
