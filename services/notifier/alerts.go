package notifier

import (
	"fmt"
	"spotify-lyrics-api-go/logcolors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultAlertCooldown is the minimum gap between alerts of the same type
const DefaultAlertCooldown = 15 * time.Minute

// AlertHandler turns bus events into notifications
type AlertHandler struct {
	notifiers        []Notifier
	cooldowns        map[EventType]time.Time
	cooldownDuration time.Duration
	now              func() time.Time
	mu               sync.Mutex
}

// AlertConfig holds configuration for the alert handler
type AlertConfig struct {
	Notifiers        []Notifier
	CooldownDuration time.Duration
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(config AlertConfig) *AlertHandler {
	cooldown := config.CooldownDuration
	if cooldown == 0 {
		cooldown = DefaultAlertCooldown
	}

	return &AlertHandler{
		notifiers:        config.Notifiers,
		cooldowns:        make(map[EventType]time.Time),
		cooldownDuration: cooldown,
		now:              time.Now,
	}
}

// Start subscribes the handler to the global event bus
func (h *AlertHandler) Start() {
	h.Attach(GetEventBus())
}

// Attach subscribes the handler to bus
func (h *AlertHandler) Attach(bus *EventBus) {
	bus.SubscribeAll(h.HandleEvent)
	log.Infof("%s Alert handler started (cooldown: %v, notifiers: %d)",
		logcolors.LogNotifier, h.cooldownDuration, len(h.notifiers))
}

// HandleEvent formats event and sends it unless its type is cooling down
func (h *AlertHandler) HandleEvent(event *Event) {
	subject, message := FormatAlert(event)
	if subject == "" {
		return
	}

	if !h.shouldAlert(event.Type) {
		log.Debugf("%s Skipping alert for %s (cooldown active)", logcolors.LogNotifier, event.Type)
		return
	}

	h.sendAlert(subject, message)
}

func (h *AlertHandler) shouldAlert(eventType EventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	lastAlert, exists := h.cooldowns[eventType]
	if !exists || now.Sub(lastAlert) >= h.cooldownDuration {
		h.cooldowns[eventType] = now
		return true
	}
	return false
}

// FormatAlert renders an event as a subject and body. Unknown events yield "".
func FormatAlert(event *Event) (subject, message string) {
	switch event.Type {
	case EventCircuitBreakerOpen:
		subject = "Circuit Breaker OPEN"
		message = fmt.Sprintf(
			"The %v circuit breaker has tripped after %v consecutive failures.\n\n"+
				"Lyrics requests will fail fast for %v.\n\n"+
				"Action: Check the lyrics upstream status.",
			event.Data["name"], event.Data["failures"], event.Data["cooldown"])

	case EventTokenExchangeFailed:
		subject = "Spotify Token Exchange Failed"
		message = fmt.Sprintf(
			"The Spotify accounts service answered HTTP %v to the client-credentials exchange.\n\n"+
				"Action: Check SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET.",
			event.Data["status_code"])

	case EventServerStartupFailed:
		subject = "Server Startup FAILED"
		message = fmt.Sprintf(
			"The server failed to start.\n\nComponent: %v\nError: %v\n\n"+
				"Action: Check logs and fix the issue immediately.",
			event.Data["component"], event.Data["error"])

	case EventHighFailureRate:
		subject = "High Failure Rate Warning"
		message = fmt.Sprintf(
			"The %v circuit breaker has recorded %v/%v failures.\n\n"+
				"If failures continue, the circuit will open.",
			event.Data["name"], event.Data["failures"], event.Data["threshold"])

	case EventCacheBackupFailed:
		subject = "Cache Backup Failed"
		message = fmt.Sprintf("Failed to create cache backup.\n\nError: %v\n\nAction: Check disk space and permissions.",
			event.Data["error"])

	case EventBatchFailed:
		subject = "Batch Download Failed"
		message = fmt.Sprintf("All %v tracks of %q failed to download.\n\nAction: Check the lyrics upstream status.",
			event.Data["total"], event.Data["collection"])

	case EventCircuitBreakerRecovered:
		subject = "Circuit Breaker Recovered"
		message = fmt.Sprintf("The %v circuit breaker has recovered and is now operational.", event.Data["name"])

	case EventServerStarted:
		subject = "Server Started"
		message = fmt.Sprintf("Server started successfully on port %v.", event.Data["port"])
		if ok, _ := event.Data["spotify_credentials"].(bool); !ok {
			message += "\n\nSpotify credentials are missing; resolve requests will fail."
		}

	case EventCacheCleared:
		subject = "Cache Cleared"
		message = fmt.Sprintf("Cache has been cleared.\n\nBackup saved to: %v", event.Data["backup_path"])

	default:
		return "", ""
	}

	switch event.Severity {
	case SeverityCritical:
		subject = "🚨 " + subject
	case SeverityWarning:
		subject = "⚠️ " + subject
	case SeverityInfo:
		subject = "ℹ️ " + subject
	}

	return subject, message
}

func (h *AlertHandler) sendAlert(subject, message string) {
	if len(h.notifiers) == 0 {
		log.Debugf("%s No notifiers configured, skipping alert: %s", logcolors.LogNotifier, subject)
		return
	}

	log.Infof("%s Sending alert: %s", logcolors.LogNotifier, subject)

	successCount := 0
	for _, n := range h.notifiers {
		if err := n.Send(subject, message); err != nil {
			log.Errorf("%s Failed to send alert via notifier: %v", logcolors.LogNotifier, err)
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		log.Infof("%s Alert sent via %d/%d notifiers", logcolors.LogNotifier, successCount, len(h.notifiers))
	}
}

// ResetAllCooldowns clears every cooldown
func (h *AlertHandler) ResetAllCooldowns() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cooldowns = make(map[EventType]time.Time)
}
