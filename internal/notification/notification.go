package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal       NotificationType = "signal"
	NotifyPositionOpen NotificationType = "position_open"
	NotifyPositionExit NotificationType = "position_exit"
	NotifyStopRaised   NotificationType = "stop_raised"
	NotifyHedge        NotificationType = "hedge"
	NotifyMargin       NotificationType = "margin"
	NotifyConfirmation NotificationType = "confirmation"
	NotifyError        NotificationType = "error"
	NotifyInfo         NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Instrument string
	Price      float64
	PnL        float64
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager(enabled bool) *Manager {
	return &Manager{notifiers: make([]Notifier, 0), enabled: enabled}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendPositionOpen announces a new position
func (m *Manager) SendPositionOpen(instrument string, entry float64, lots int, stop float64, limiter string) error {
	return m.Send(&Notification{
		Type:       NotifyPositionOpen,
		Title:      fmt.Sprintf("🟢 Opened %s", instrument),
		Message:    fmt.Sprintf("Entry %.2f, %d lot(s), stop %.2f (%s limited)", entry, lots, stop, limiter),
		Instrument: instrument,
		Price:      entry,
	})
}

// SendPositionExit announces a closed position
func (m *Manager) SendPositionExit(instrument string, exit, pnl float64, reason string) error {
	emoji := "🔴"
	if pnl >= 0 {
		emoji = "🟢"
	}
	return m.Send(&Notification{
		Type:       NotifyPositionExit,
		Title:      fmt.Sprintf("%s Closed %s", emoji, instrument),
		Message:    fmt.Sprintf("Exit %.2f, P&L ₹%.0f. %s", exit, pnl, reason),
		Instrument: instrument,
		Price:      exit,
		PnL:        pnl,
	})
}

// SendHedgeAction announces a hedge buy or sell
func (m *Manager) SendHedgeAction(action, symbol string, qty int, price float64) error {
	return m.Send(&Notification{
		Type:    NotifyHedge,
		Title:   fmt.Sprintf("🛡 Hedge %s", action),
		Message: fmt.Sprintf("%s x%d @ %.2f", symbol, qty, price),
		Price:   price,
	})
}

// SendMarginAlert warns about margin utilisation
func (m *Manager) SendMarginAlert(utilisationPct float64, detail string) error {
	return m.Send(&Notification{
		Type:    NotifyMargin,
		Title:   fmt.Sprintf("⚠️ Margin utilisation %.1f%%", utilisationPct),
		Message: detail,
	})
}

// SendHeartbeat posts a periodic portfolio summary
func (m *Manager) SendHeartbeat(openPositions int, equity, openRisk float64) error {
	return m.Send(&Notification{
		Type:    NotifyInfo,
		Title:   "💓 Heartbeat",
		Message: fmt.Sprintf("%d open position(s), equity ₹%.0f, open risk ₹%.0f", openPositions, equity, openRisk),
	})
}

// SendError sends an error notification
func (m *Manager) SendError(source, message string) error {
	return m.Send(&Notification{
		Type:    NotifyError,
		Title:   fmt.Sprintf("❌ %s", source),
		Message: message,
	})
}

// TelegramNotifier sends notifications via the Telegram bot API
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier
func NewTelegramNotifier(botToken, chatID string, enabled bool) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		enabled:  enabled && botToken != "" && chatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

// Send posts the notification to the Telegram chat
func (t *TelegramNotifier) Send(n *Notification) error {
	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}
