package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/nats-io/nats.go"
)

// ErrRemote узел вернул ошибку обработки
var ErrRemote = errors.New("transport: remote error")

// Client отправляет взрывы на узлы blastguard.
type Client struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// Dial подключается к NATS
func Dial(url, subject string, timeout time.Duration) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("blastguard-client"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{conn: conn, subject: subject, timeout: timeout}, nil
}

// Explode отправляет запрос и ждёт ответа одного из узлов.
func (c *Client) Explode(ctx context.Context, req ExplodeRequest) (*durability.Outcome, string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.conn.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		return nil, "", fmt.Errorf("request %s: %w", c.subject, err)
	}

	var resp ExplodeResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, "", fmt.Errorf("bad response: %w", err)
	}
	if resp.Error != "" {
		return nil, resp.Node, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	if resp.Outcome == nil {
		return nil, resp.Node, fmt.Errorf("%w: empty outcome", ErrRemote)
	}
	return resp.Outcome, resp.Node, nil
}

func (c *Client) Close() {
	c.conn.Close()
}
