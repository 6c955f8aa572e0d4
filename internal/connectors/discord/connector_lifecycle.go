package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

func (c *Connector) Start(ctx context.Context) error {
	if c.reporter != nil {
		c.reporter.Starting(componentName, "starting")
	}
	if c.token == "" {
		if c.reporter != nil {
			c.reporter.Disabled(componentName, "token missing")
		}
		c.logger.Info("connector disabled, token missing")
		<-ctx.Done()
		return nil
	}
	if c.handler == nil {
		if c.reporter != nil {
			c.reporter.Disabled(componentName, "handler missing")
		}
		c.logger.Info("connector disabled, handler missing")
		<-ctx.Done()
		return nil
	}

	// Messages are handled off the read loop so one slow channel does not stall the session.
	var handlers errgroup.Group
	handlers.SetLimit(maxConcurrentMessages)
	defer handlers.Wait()

	if c.reporter != nil {
		c.reporter.Beat(componentName, "gateway session loop active")
	}
	c.logger.Info("connector started", "mode", "gateway")
	for {
		if ctx.Err() != nil {
			c.stopped()
			return nil
		}
		if err := c.runSession(ctx, &handlers); err != nil {
			if ctx.Err() != nil {
				c.stopped()
				return nil
			}
			if c.reporter != nil {
				c.reporter.Degrade(componentName, "gateway session error", err)
			}
			c.logger.Error("discord session ended, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				c.stopped()
				return nil
			case <-time.After(c.retryDelay):
			}
		}
	}
}

func (c *Connector) stopped() {
	if c.reporter != nil {
		c.reporter.Stopped(componentName, "stopped")
	}
	c.logger.Info("connector stopped")
}

func (c *Connector) runSession(ctx context.Context, handlers *errgroup.Group) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial discord gateway: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller cancels.
	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	var (
		writeMu      sync.Mutex
		sequence     atomic.Int64
		heartbeatSec = 30 * time.Second
	)

	readHelloDone := false
	for !readHelloDone {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read hello: %w", err)
		}
		var envelope gatewayEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("decode hello payload: %w", err)
		}
		if envelope.Op != 10 {
			continue
		}
		var hello discordHello
		if err := json.Unmarshal(envelope.D, &hello); err != nil {
			return fmt.Errorf("decode hello body: %w", err)
		}
		heartbeatSec = time.Duration(hello.HeartbeatIntervalMS) * time.Millisecond
		readHelloDone = true
	}

	if err := c.sendIdentify(conn, &writeMu); err != nil {
		return err
	}
	if c.reporter != nil {
		c.reporter.Beat(componentName, "gateway session established")
	}

	go c.heartbeatLoop(sessionCtx, conn, &writeMu, &sequence, heartbeatSec)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read gateway message: %w", err)
		}

		var envelope gatewayEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.logger.Error("decode gateway envelope failed", "error", err)
			continue
		}
		if envelope.S != nil {
			sequence.Store(*envelope.S)
		}

		switch envelope.Op {
		case 0:
			if c.reporter != nil {
				c.reporter.Beat(componentName, "gateway event received")
			}
			switch envelope.T {
			case "READY":
				var ready discordReady
				if err := json.Unmarshal(envelope.D, &ready); err == nil {
					c.setBotUserID(ready.User.ID)
				}
			case "MESSAGE_CREATE":
				var message discordMessageCreate
				if err := json.Unmarshal(envelope.D, &message); err != nil {
					c.logger.Error("decode message create failed", "error", err)
					continue
				}
				handlers.Go(func() error {
					c.handleMessageCreate(ctx, message)
					return nil
				})
			}
		case 1:
			if err := c.sendHeartbeat(conn, &writeMu, sequence.Load()); err != nil {
				return err
			}
		case 7:
			return fmt.Errorf("gateway requested reconnect")
		case 9:
			return fmt.Errorf("gateway invalid session")
		}
	}
}

func (c *Connector) heartbeatLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, seq *atomic.Int64, interval time.Duration) {
	if interval < time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendHeartbeat(conn, writeMu, seq.Load()); err != nil {
				c.logger.Error("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (c *Connector) sendIdentify(conn *websocket.Conn, writeMu *sync.Mutex) error {
	payload := map[string]any{
		"op": 2,
		"d": map[string]any{
			"token": c.token,
			"intents": discordIntentGuilds |
				discordIntentGuildMessages |
				discordIntentDirectMessages |
				discordIntentMessageContents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "ticketbot",
				"device":  "ticketbot",
			},
		},
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	return nil
}

func (c *Connector) sendHeartbeat(conn *websocket.Conn, writeMu *sync.Mutex, seq int64) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	payload := map[string]any{
		"op": 1,
		"d":  seq,
	}
	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	return nil
}
