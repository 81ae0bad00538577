package pg_listener

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// NotificationHandler receives every payload sent on the channel. A reconnect
// is reported with an empty payload because notifications may have been
// missed while the connection was down.
type NotificationHandler interface {
	HandleNotification(channel, payload string) error
}

type ListenerConfig struct {
	PgConnStr            string
	Channel              string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

type DBListener struct {
	config  ListenerConfig
	handler NotificationHandler
}

func NewDBListener(config ListenerConfig, handler NotificationHandler) *DBListener {
	if config.MinReconnectInterval <= 0 {
		config.MinReconnectInterval = 10 * time.Second
	}
	if config.MaxReconnectInterval <= 0 {
		config.MaxReconnectInterval = time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 90 * time.Second
	}
	return &DBListener{
		config:  config,
		handler: handler,
	}
}

// Start listens until ctx is cancelled.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, d.config.MinReconnectInterval, d.config.MaxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).WithField("channel", d.config.Channel).Warn("postgres listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(d.config.Channel); err != nil {
		return err
	}
	logrus.WithField("channel", d.config.Channel).Info("listening for postgres notifications")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			d.handleNotification(n)
		case <-time.After(d.config.PingInterval):
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).Warn("postgres listener ping failed")
			}
		}
	}
}

func (d *DBListener) handleNotification(notification *pq.Notification) {
	channel, payload := d.config.Channel, ""
	if notification != nil {
		channel, payload = notification.Channel, notification.Extra
	}
	if err := d.handler.HandleNotification(channel, payload); err != nil {
		logrus.WithError(err).WithField("channel", channel).Error("error handling notification")
	}
}
