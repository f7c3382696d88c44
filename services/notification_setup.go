package services

import (
	"log"

	"request-routing-api/config"
)

// BuildNotificationSinks returns the sinks enabled by settings. In-app is
// always on; email needs SMTP_HOST/SMTP_FROM and kafka needs KAFKA_BROKERS.
func BuildNotificationSinks(settings config.Settings, store NotificationStore) ([]NotificationSink, error) {
	sinks := []NotificationSink{NewInAppSink(store)}
	if settings.SMTP.Configured() {
		sinks = append(sinks, NewEmailSink(config.NewMailer(settings.SMTP)))
	} else {
		log.Println("[notify] SMTP not configured, email sink disabled")
	}
	if len(settings.KafkaBrokers) > 0 {
		kafkaSink, err := NewKafkaSink(settings.KafkaBrokers, settings.KafkaTopic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
	}
	return sinks, nil
}

// DispatcherOptionsFrom maps the NOTIFY_* settings.
func DispatcherOptionsFrom(settings config.Settings) DispatcherOptions {
	return DispatcherOptions{
		Workers:     settings.NotifyWorkers,
		QueueSize:   settings.NotifyQueueSize,
		MaxAttempts: settings.NotifyMaxAttempts,
	}
}
