package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/ticketbot/internal/heartbeat"
)

func (r *Runtime) Run(ctx context.Context) error {
	connectorNames := make([]string, 0, len(r.connectors))
	for _, connector := range r.connectors {
		connectorNames = append(connectorNames, connector.Name())
	}
	r.logger.Info("ticketbot runtime starting",
		"addr", r.cfg.HTTPAddr,
		"tracker", r.cfg.Tracker.Provider,
		"connectors", strings.Join(connectorNames, ","),
		"audit", r.store != nil,
	)
	r.heartbeat.Beat(heartbeat.ComponentRuntime, "runtime loop started")

	group, groupCtx := errgroup.WithContext(ctx)
	if r.scheduler != nil {
		group.Go(func() error {
			return r.scheduler.Start(groupCtx)
		})
	}
	for _, conn := range r.connectors {
		connector := conn
		group.Go(func() error {
			return runMonitored(groupCtx, r.heartbeat, heartbeat.ConnectorComponent(connector.Name()), 0, func(runCtx context.Context) error {
				return connector.Start(runCtx)
			})
		})
	}
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, heartbeat.ComponentAPI, 20*time.Second, func(runCtx context.Context) error {
			err := r.httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	})
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, heartbeat.ComponentRuntime, 20*time.Second, func(runCtx context.Context) error {
			<-runCtx.Done()
			return nil
		})
	})
	if r.heartbeatMonitor != nil {
		group.Go(func() error {
			return r.heartbeatMonitor.Start(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	r.logger.Info("ticketbot runtime stopped")
	return err
}

func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// runMonitored reports component lifecycle around run. A positive beatInterval keeps
// components that have no natural activity from going stale.
func runMonitored(
	ctx context.Context,
	reporter heartbeat.Reporter,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter != nil {
		reporter.Starting(component, "starting")
		reporter.Beat(component, "running")
	}

	var stopHeartbeat func()
	if reporter != nil && beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		stopHeartbeat = cancel
		go func() {
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component, "running")
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if reporter == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, "component failed", err)
		return err
	}
	reporter.Stopped(component, "stopped")
	return err
}
